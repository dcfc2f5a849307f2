// Package mocks provides mock expectation helpers for common testing patterns
package mocks

import (
	"go.uber.org/mock/gomock"

	"github.com/KirkDiggler/rpg-encounters/internal/clients/character"
	charactermock "github.com/KirkDiggler/rpg-encounters/internal/clients/character/mock"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
)

// ExpectCharacterFetch expects one fetch of ch using credential and returns it
func ExpectCharacterFetch(mockClient *charactermock.MockClient, credential string, ch *character.Character) *gomock.Call {
	return mockClient.EXPECT().
		FetchCharacter(gomock.Any(), ch.ID, credential).
		Return(ch, nil)
}

// ExpectCharacterUnavailable expects one fetch of characterID that fails like an upstream outage
func ExpectCharacterUnavailable(mockClient *charactermock.MockClient, characterID, credential string) *gomock.Call {
	return mockClient.EXPECT().
		FetchCharacter(gomock.Any(), characterID, credential).
		Return(nil, errors.Unavailable("character service unavailable"))
}
