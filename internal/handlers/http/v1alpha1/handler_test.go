package v1alpha1_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/KirkDiggler/rpg-encounters/internal/access"
	"github.com/KirkDiggler/rpg-encounters/internal/auth"
	authmock "github.com/KirkDiggler/rpg-encounters/internal/auth/mock"
	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	"github.com/KirkDiggler/rpg-encounters/internal/handlers/http/v1alpha1"
	"github.com/KirkDiggler/rpg-encounters/internal/orchestrators/encounter"
	encountermock "github.com/KirkDiggler/rpg-encounters/internal/orchestrators/encounter/mock"
)

type errorResponse struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Meta    map[string]any `json:"meta"`
	} `json:"error"`
}

type stubHealth struct {
	serving bool
}

func (h stubHealth) Serving() bool { return h.serving }

type HandlerTestSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	mockService *encountermock.MockService
	mockAuth    *authmock.MockVerifier
	health      *stubHealth
	routes      http.Handler

	host *auth.Identity
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func (s *HandlerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockService = encountermock.NewMockService(s.ctrl)
	s.mockAuth = authmock.NewMockVerifier(s.ctrl)
	s.health = &stubHealth{serving: true}

	handler, err := v1alpha1.NewHandler(&v1alpha1.HandlerConfig{
		EncounterService: s.mockService,
		Verifier:         s.mockAuth,
		Health:           s.health,
	})
	s.Require().NoError(err)
	s.routes = handler.Routes()

	s.host = &auth.Identity{UserID: "user_host", Token: "tok-host"}
}

func (s *HandlerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

// do sends an authenticated request as the host
func (s *HandlerTestSuite) do(method, path, body string) *httptest.ResponseRecorder {
	s.mockAuth.EXPECT().Verify(gomock.Any(), "tok-host").Return(s.host, nil)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok-host")
	rec := httptest.NewRecorder()
	s.routes.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerTestSuite) decodeError(rec *httptest.ResponseRecorder) errorResponse {
	var body errorResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func (s *HandlerTestSuite) TestNewHandlerValidation() {
	_, err := v1alpha1.NewHandler(&v1alpha1.HandlerConfig{Verifier: s.mockAuth})
	s.True(errors.IsInvalidArgument(err))

	_, err = v1alpha1.NewHandler(nil)
	s.Error(err)
}

func (s *HandlerTestSuite) TestHealthzNeedsNoToken() {
	rec := httptest.NewRecorder()
	s.routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	s.Equal(http.StatusOK, rec.Code)

	s.health.serving = false
	rec = httptest.NewRecorder()
	s.routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}

func (s *HandlerTestSuite) TestMissingTokenIsUnauthenticated() {
	rec := httptest.NewRecorder()
	s.routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/encounters/enc_1/initiative", nil))

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("UNAUTHENTICATED", s.decodeError(rec).Error.Code)
}

func (s *HandlerTestSuite) TestInvalidTokenIsUnauthenticated() {
	s.mockAuth.EXPECT().
		Verify(gomock.Any(), "expired").
		Return(nil, errors.Unauthenticated("token is expired"))

	req := httptest.NewRequest(http.MethodGet, "/encounters/enc_1/initiative", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec := httptest.NewRecorder()
	s.routes.ServeHTTP(rec, req)

	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerTestSuite) TestQueryTokenOnlyOpensEventStream() {
	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/encounters/enc_1/initiative?access_token=tok-host"},
		{http.MethodPost, "/encounters/enc_1/initiative/next-turn?access_token=tok-host"},
		{http.MethodPost, "/campaigns/camp_1/events/stream?access_token=tok-host"},
		{http.MethodGet, "/campaigns/camp_1/events/stream/extra?access_token=tok-host"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", "websocket")
		rec := httptest.NewRecorder()
		s.routes.ServeHTTP(rec, req)

		s.Equal(http.StatusUnauthorized, rec.Code, tc.method+" "+tc.path)
	}
}

func (s *HandlerTestSuite) TestCreateEncounter() {
	s.mockService.EXPECT().
		CreateEncounter(gomock.Any(), &encounter.CreateEncounterInput{
			Identity:   s.host,
			CampaignID: "camp_1",
			Name:       "Goblin ambush",
		}).
		Return(&encounter.CreateEncounterOutput{
			Encounter: &entities.Encounter{ID: "enc_1", CampaignID: "camp_1", Name: "Goblin ambush"},
		}, nil)

	rec := s.do(http.MethodPost, "/campaigns/camp_1/encounters", `{"name":"Goblin ambush"}`)

	s.Equal(http.StatusCreated, rec.Code)
	var body struct {
		Encounter entities.Encounter `json:"encounter"`
		Status    string             `json:"status"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("enc_1", body.Encounter.ID)
	s.Equal("pending", body.Status)
}

func (s *HandlerTestSuite) TestCreateEncounterEmptyBody() {
	rec := s.do(http.MethodPost, "/campaigns/camp_1/encounters", "")

	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerTestSuite) TestGetInitiative() {
	s.mockService.EXPECT().
		GetInitiative(gomock.Any(), &encounter.GetInitiativeInput{Identity: s.host, EncounterID: "enc_1"}).
		Return(&encounter.GetInitiativeOutput{
			Encounter:     &entities.Encounter{ID: "enc_1"},
			Entries:       []*entities.InitiativeEntry{{ID: "entry_1", Type: entities.EntryTypeNPC, Name: "Ogre"}},
			ActiveEntryID: "entry_1",
			Role:          access.RoleHost,
		}, nil)

	rec := s.do(http.MethodGet, "/encounters/enc_1/initiative", "")

	s.Equal(http.StatusOK, rec.Code)
	var body struct {
		Entries       []entities.InitiativeEntry `json:"entries"`
		ActiveEntryID string                     `json:"activeEntryId"`
		Role          string                     `json:"role"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Len(body.Entries, 1)
	s.Equal("entry_1", body.ActiveEntryID)
	s.Equal("host", body.Role)
}

func (s *HandlerTestSuite) TestCreateEntryVariants() {
	s.Run("npc", func() {
		s.mockService.EXPECT().
			CreateEntry(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, input *encounter.CreateEntryInput) (*encounter.CreateEntryOutput, error) {
				s.Equal(entities.EntryTypeNPC, input.Type)
				s.Equal("enc_1", input.EncounterID)
				s.Require().NotNil(input.NPC)
				s.Nil(input.Player)
				s.Equal("Ogre", input.NPC.Name)
				s.Equal(59, *input.NPC.HP)
				return &encounter.CreateEntryOutput{Entry: &entities.InitiativeEntry{ID: "entry_1"}}, nil
			})

		rec := s.do(http.MethodPost, "/encounters/enc_1/initiative", `{"type":"npc","name":"Ogre","hp":59}`)
		s.Equal(http.StatusCreated, rec.Code)
	})

	s.Run("player", func() {
		s.mockService.EXPECT().
			CreateEntry(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, input *encounter.CreateEntryInput) (*encounter.CreateEntryOutput, error) {
				s.Equal(entities.EntryTypePlayer, input.Type)
				s.Equal(&encounter.PlayerSpec{UserID: "user_alice", CharacterID: "char_alice"}, input.Player)
				return &encounter.CreateEntryOutput{Entry: &entities.InitiativeEntry{ID: "entry_2"}}, nil
			})

		rec := s.do(http.MethodPost, "/encounters/enc_1/initiative",
			`{"type":"player","userId":"user_alice","characterId":"char_alice"}`)
		s.Equal(http.StatusCreated, rec.Code)
	})
}

func (s *HandlerTestSuite) TestCreateEntryRejectsBadVariants() {
	testCases := []struct {
		name string
		body string
	}{
		{name: "unknown type", body: `{"type":"monster","name":"Ogre"}`},
		{name: "missing type", body: `{"name":"Ogre"}`},
		{name: "player fields on npc", body: `{"type":"npc","name":"Ogre","userId":"user_alice"}`},
		{name: "npc fields on player", body: `{"type":"player","userId":"u","characterId":"c","hp":3}`},
		{name: "not json", body: `{"type":`},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			rec := s.do(http.MethodPost, "/encounters/enc_1/initiative", tc.body)
			s.Equal(http.StatusBadRequest, rec.Code)
			s.Equal("INVALID_ARGUMENT", s.decodeError(rec).Error.Code)
		})
	}
}

func (s *HandlerTestSuite) TestUpdateEntryDecodesPatch() {
	s.mockService.EXPECT().
		UpdateEntry(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, input *encounter.UpdateEntryInput) (*encounter.UpdateEntryOutput, error) {
			s.Equal("entry_1", input.EntryID)
			s.Equal(encounter.Some("Ogre chief"), input.Patch.Name)
			s.Equal(encounter.Null[int](), input.Patch.HP)
			s.False(input.Patch.AC.Set)
			return &encounter.UpdateEntryOutput{Entry: &entities.InitiativeEntry{ID: "entry_1"}}, nil
		})

	rec := s.do(http.MethodPatch, "/encounters/enc_1/initiative/entry_1",
		`{"name":"Ogre chief","hp":null,"orderIndex":99}`)

	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerTestSuite) TestUpdateEntryForbidden() {
	s.mockService.EXPECT().
		UpdateEntry(gomock.Any(), gomock.Any()).
		Return(nil, errors.PermissionDenied("members may only change their own player entry").
			WithMeta("entry_id", "entry_1"))

	rec := s.do(http.MethodPatch, "/encounters/enc_1/initiative/entry_1", `{"hp":0}`)

	s.Equal(http.StatusForbidden, rec.Code)
	body := s.decodeError(rec)
	s.Equal("PERMISSION_DENIED", body.Error.Code)
	s.Equal("entry_1", body.Error.Meta["entry_id"])
}

func (s *HandlerTestSuite) TestDeleteEntry() {
	s.mockService.EXPECT().
		DeleteEntry(gomock.Any(), &encounter.DeleteEntryInput{Identity: s.host, EncounterID: "enc_1", EntryID: "entry_1"}).
		Return(&encounter.DeleteEntryOutput{}, nil)

	rec := s.do(http.MethodDelete, "/encounters/enc_1/initiative/entry_1", "")

	s.Equal(http.StatusNoContent, rec.Code)
	s.Empty(rec.Body.Bytes())
}

func (s *HandlerTestSuite) TestRefreshEntryBodyIsOptional() {
	s.mockService.EXPECT().
		RefreshEntryFromCharacter(gomock.Any(), &encounter.RefreshEntryInput{Identity: s.host, EncounterID: "enc_1"}).
		Return(&encounter.RefreshEntryOutput{Entry: &entities.InitiativeEntry{ID: "entry_1"}}, nil)

	rec := s.do(http.MethodPost, "/encounters/enc_1/initiative/refresh-entry", "")

	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerTestSuite) TestRefreshEntryUpstreamDown() {
	s.mockService.EXPECT().
		RefreshEntryFromCharacter(gomock.Any(), &encounter.RefreshEntryInput{
			Identity:    s.host,
			EncounterID: "enc_1",
			EntryID:     "entry_2",
		}).
		Return(nil, errors.Unavailable("character service unavailable"))

	rec := s.do(http.MethodPost, "/encounters/enc_1/initiative/refresh-entry", `{"entryId":"entry_2"}`)

	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Equal("character service unavailable", s.decodeError(rec).Error.Message)
}

func (s *HandlerTestSuite) TestNextTurn() {
	s.mockService.EXPECT().
		NextTurn(gomock.Any(), &encounter.NextTurnInput{Identity: s.host, EncounterID: "enc_1"}).
		Return(&encounter.NextTurnOutput{
			Encounter:     &entities.Encounter{ID: "enc_1", CurrentRound: 2, CurrentTurnIndex: 0},
			ActiveEntryID: "entry_1",
		}, nil)

	rec := s.do(http.MethodPost, "/encounters/enc_1/initiative/next-turn", "")

	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"currentRound":2,"currentTurnIndex":0,"activeEntryId":"entry_1"}`, rec.Body.String())
}

func (s *HandlerTestSuite) TestNextTurnBeforeStart() {
	s.mockService.EXPECT().
		NextTurn(gomock.Any(), gomock.Any()).
		Return(nil, errors.FailedPrecondition("encounter has not been started"))

	rec := s.do(http.MethodPost, "/encounters/enc_1/initiative/next-turn", "")

	s.Equal(http.StatusConflict, rec.Code)
	s.Equal("FAILED_PRECONDITION", s.decodeError(rec).Error.Code)
}

func (s *HandlerTestSuite) TestRollInitiative() {
	s.mockService.EXPECT().
		RollInitiative(gomock.Any(), &encounter.RollInitiativeInput{Identity: s.host, EncounterID: "enc_1", EntryID: "entry_1"}).
		Return(&encounter.RollInitiativeOutput{Entry: &entities.InitiativeEntry{ID: "entry_1"}}, nil)

	rec := s.do(http.MethodPost, "/encounters/enc_1/initiative/entry_1/roll", "")

	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerTestSuite) TestListEventsQuery() {
	s.mockService.EXPECT().
		ListEvents(gomock.Any(), &encounter.ListEventsInput{
			Identity:   s.host,
			CampaignID: "camp_1",
			Cursor:     5,
			Limit:      10,
			Descending: true,
		}).
		Return(&encounter.ListEventsOutput{NextCursor: 5}, nil)

	rec := s.do(http.MethodGet, "/campaigns/camp_1/events?cursor=5&limit=10&order=desc", "")

	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"events":[],"nextCursor":5,"hasMore":false}`, rec.Body.String())
}

func (s *HandlerTestSuite) TestListEventsBadQuery() {
	rec := s.do(http.MethodGet, "/campaigns/camp_1/events?cursor=-1&order=sideways", "")

	s.Equal(http.StatusBadRequest, rec.Code)
	body := s.decodeError(rec)
	s.Contains(body.Error.Meta, "validation_errors")
}

func (s *HandlerTestSuite) TestInternalErrorsAreMasked() {
	s.mockService.EXPECT().
		GetEncounter(gomock.Any(), gomock.Any()).
		Return(nil, errors.Internal("redis said something sensitive"))

	rec := s.do(http.MethodGet, "/encounters/enc_1", "")

	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Equal("internal error", s.decodeError(rec).Error.Message)
}
