package encounter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/KirkDiggler/rpg-encounters/internal/access"
	"github.com/KirkDiggler/rpg-encounters/internal/auth"
	"github.com/KirkDiggler/rpg-encounters/internal/broadcast"
	"github.com/KirkDiggler/rpg-encounters/internal/clients/character"
	charactermock "github.com/KirkDiggler/rpg-encounters/internal/clients/character/mock"
	"github.com/KirkDiggler/rpg-encounters/internal/clients/roster"
	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	"github.com/KirkDiggler/rpg-encounters/internal/orchestrators/encounter"
	"github.com/KirkDiggler/rpg-encounters/internal/pkg/clock"
	"github.com/KirkDiggler/rpg-encounters/internal/pkg/idgen"
	"github.com/KirkDiggler/rpg-encounters/internal/repositories/encounters"
	"github.com/KirkDiggler/rpg-encounters/internal/repositories/events"
	"github.com/KirkDiggler/rpg-encounters/internal/testutils"
	"github.com/KirkDiggler/rpg-encounters/internal/testutils/mocks"
)

const (
	partyCampaign = "camp_party"
	soloCampaign  = "camp_solo"
	hubBuffer     = 8
)

// stubRoller always rolls the same number
type stubRoller struct {
	value int
}

func (r *stubRoller) Roll(_ int) (int, error) { return r.value, nil }

func (r *stubRoller) RollN(count, _ int) ([]int, error) {
	out := make([]int, count)
	for i := range out {
		out[i] = r.value
	}
	return out, nil
}

type OrchestratorTestSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	characters *charactermock.MockClient
	eventLog   events.Repository
	flaky      *testutils.FlakyTxClient
	hub        *broadcast.Hub
	roller     *stubRoller
	svc        encounter.Service
	cleanup    func()
	ctx        context.Context

	host     *auth.Identity
	alice    *auth.Identity
	bob      *auth.Identity
	stranger *auth.Identity
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorTestSuite))
}

func (s *OrchestratorTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.characters = charactermock.NewMockClient(s.ctrl)
	s.ctx = context.Background()

	client, cleanup := testutils.CreateTestRedisClient(s.T())
	s.cleanup = cleanup

	store, err := roster.New(&roster.Config{Client: client})
	s.Require().NoError(err)
	s.Require().NoError(store.PutCampaign(s.ctx, testutils.CreateTestCampaign(partyCampaign)))
	s.Require().NoError(store.PutCampaign(s.ctx, testutils.CreateTestSoloCampaign(soloCampaign)))

	s.flaky = testutils.NewFlakyTxClient(client)
	s.eventLog, err = events.NewRedis(&events.RedisConfig{Client: s.flaky})
	s.Require().NoError(err)
	repo, err := encounters.NewRedis(&encounters.RedisConfig{Client: s.flaky, EventLog: s.eventLog})
	s.Require().NoError(err)

	s.hub, err = broadcast.New(&broadcast.Config{Buffer: hubBuffer})
	s.Require().NoError(err)

	s.roller = &stubRoller{value: 15}
	s.svc, err = encounter.NewOrchestrator(&encounter.Config{
		Encounters:  repo,
		EventLog:    s.eventLog,
		Roster:      store,
		Characters:  s.characters,
		Hub:         s.hub,
		IDGenerator: idgen.NewSequential("id"),
		Clock:       clock.NewFixed(time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)),
		Roller:      s.roller,
	})
	s.Require().NoError(err)

	s.host = &auth.Identity{UserID: "user_host", Token: "tok-host"}
	s.alice = &auth.Identity{UserID: "user_alice", Token: "tok-alice"}
	s.bob = &auth.Identity{UserID: "user_bob", Token: "tok-bob"}
	s.stranger = &auth.Identity{UserID: "user_stranger", Token: "tok-stranger"}
}

func (s *OrchestratorTestSuite) TearDownTest() {
	s.ctrl.Finish()
	s.cleanup()
}

func (s *OrchestratorTestSuite) createEncounter(campaignID string) *entities.Encounter {
	out, err := s.svc.CreateEncounter(s.ctx, &encounter.CreateEncounterInput{
		Identity:   s.host,
		CampaignID: campaignID,
		Name:       "Goblin ambush",
	})
	s.Require().NoError(err)
	return out.Encounter
}

func (s *OrchestratorTestSuite) addNPC(encounterID, name string, init *int, hp *int) *entities.InitiativeEntry {
	out, err := s.svc.CreateEntry(s.ctx, &encounter.CreateEntryInput{
		Identity:    s.host,
		EncounterID: encounterID,
		Type:        entities.EntryTypeNPC,
		NPC: &encounter.NPCSpec{
			Name:              name,
			InitiativeBonus:   2,
			CurrentInitiative: init,
			HP:                hp,
			AC:                intPtr(13),
			Notes:             strPtr("flees at half hp"),
		},
	})
	s.Require().NoError(err)
	return out.Entry
}

// activateParty starts a party encounter; alice's character loads, bob's does not
func (s *OrchestratorTestSuite) activateParty(encounterID string) *encounter.ActivateOutput {
	mocks.ExpectCharacterFetch(s.characters, "tok-host", testutils.CreateTestCharacter(testutils.AliceCharID))
	mocks.ExpectCharacterUnavailable(s.characters, testutils.BobCharID, "tok-host")

	out, err := s.svc.Activate(s.ctx, &encounter.ActivateInput{Identity: s.host, EncounterID: encounterID})
	s.Require().NoError(err)
	return out
}

func (s *OrchestratorTestSuite) entryOf(encounterID, userID string) *entities.InitiativeEntry {
	out, err := s.svc.GetInitiative(s.ctx, &encounter.GetInitiativeInput{Identity: s.host, EncounterID: encounterID})
	s.Require().NoError(err)
	for _, e := range out.Entries {
		if e.OwnedBy(userID) {
			return e
		}
	}
	s.FailNow("no entry for " + userID)
	return nil
}

func (s *OrchestratorTestSuite) latestSeq(campaignID string) uint64 {
	out, err := s.eventLog.LatestSeq(s.ctx, &events.LatestSeqInput{CampaignID: campaignID})
	s.Require().NoError(err)
	return out.Seq
}

func (s *OrchestratorTestSuite) TestCreateEncounterHostOnly() {
	_, err := s.svc.CreateEncounter(s.ctx, &encounter.CreateEncounterInput{
		Identity:   s.alice,
		CampaignID: partyCampaign,
		Name:       "Ambush",
	})
	s.True(errors.IsPermissionDenied(err))

	_, err = s.svc.CreateEncounter(s.ctx, &encounter.CreateEncounterInput{
		Identity:   s.host,
		CampaignID: partyCampaign,
		Name:       "   ",
	})
	s.True(errors.IsInvalidArgument(err))

	enc := s.createEncounter(partyCampaign)
	s.Equal(entities.EncounterStatusPending, enc.Status())
	s.Equal(uint64(1), s.latestSeq(partyCampaign))
}

func (s *OrchestratorTestSuite) TestOutsiderSeesNotFound() {
	enc := s.createEncounter(partyCampaign)

	_, err := s.svc.GetEncounter(s.ctx, &encounter.GetEncounterInput{Identity: s.stranger, EncounterID: enc.ID})
	s.True(errors.IsNotFound(err))

	_, err = s.svc.ListEvents(s.ctx, &encounter.ListEventsInput{Identity: s.stranger, CampaignID: partyCampaign})
	s.True(errors.IsNotFound(err))

	_, err = s.svc.GetEncounter(s.ctx, &encounter.GetEncounterInput{EncounterID: enc.ID})
	s.True(errors.IsUnauthenticated(err))
}

func (s *OrchestratorTestSuite) TestActivateCreatesPlaceholdersOnce() {
	enc := s.createEncounter(partyCampaign)

	out := s.activateParty(enc.ID)
	s.True(out.Activated)
	s.Require().Len(out.CreatedEntries, 2)
	s.Equal(1, out.Encounter.CurrentRound)
	s.Equal(0, out.Encounter.CurrentTurnIndex)

	aria := out.CreatedEntries[0]
	s.Equal("Aria", aria.Name)
	s.Equal(0, aria.InitiativeBonus)
	s.Equal(12, *aria.HP)
	s.Require().NotNil(aria.AvatarURL)
	s.Equal(int64(1), aria.OrderIndex)

	bob := out.CreatedEntries[1]
	s.Equal("Unknown adventurer", bob.Name)
	s.Equal(int64(2), bob.OrderIndex)

	seq := s.latestSeq(partyCampaign)
	again, err := s.svc.Activate(s.ctx, &encounter.ActivateInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.False(again.Activated)
	s.Empty(again.CreatedEntries)
	s.Equal(seq, s.latestSeq(partyCampaign))

	page, err := s.svc.ListEvents(s.ctx, &encounter.ListEventsInput{Identity: s.host, CampaignID: partyCampaign})
	s.Require().NoError(err)
	s.Require().Len(page.Events, 2)
	s.Equal(entities.EventTypeEncounterStarted, page.Events[1].Type)

	var started entities.EncounterStartedPayload
	s.Require().NoError(page.Events[1].DecodePayload(&started))
	s.Len(started.CreatedEntries, 2)
}

func (s *OrchestratorTestSuite) TestActivateHostOnly() {
	enc := s.createEncounter(partyCampaign)

	_, err := s.svc.Activate(s.ctx, &encounter.ActivateInput{Identity: s.alice, EncounterID: enc.ID})
	s.True(errors.IsPermissionDenied(err))
}

func (s *OrchestratorTestSuite) TestAdvanceWrapsRound() {
	enc := s.createEncounter(soloCampaign)
	first := s.addNPC(enc.ID, "Goblin boss", intPtr(20), intPtr(30))
	s.addNPC(enc.ID, "Goblin", intPtr(15), intPtr(7))
	s.addNPC(enc.ID, "Wolf", intPtr(10), intPtr(11))

	_, err := s.svc.Activate(s.ctx, &encounter.ActivateInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)

	for range 2 {
		_, err = s.svc.NextTurn(s.ctx, &encounter.NextTurnInput{Identity: s.host, EncounterID: enc.ID})
		s.Require().NoError(err)
	}

	out, err := s.svc.NextTurn(s.ctx, &encounter.NextTurnInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Equal(0, out.Encounter.CurrentTurnIndex)
	s.Equal(2, out.Encounter.CurrentRound)
	s.Equal(first.ID, out.ActiveEntryID)
}

func (s *OrchestratorTestSuite) TestNextTurnPreconditions() {
	enc := s.createEncounter(soloCampaign)

	_, err := s.svc.NextTurn(s.ctx, &encounter.NextTurnInput{Identity: s.host, EncounterID: enc.ID})
	s.True(errors.IsFailedPrecondition(err), "not started")

	_, err = s.svc.Activate(s.ctx, &encounter.ActivateInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)

	_, err = s.svc.NextTurn(s.ctx, &encounter.NextTurnInput{Identity: s.host, EncounterID: enc.ID})
	s.True(errors.IsFailedPrecondition(err), "no combatants")
}

func (s *OrchestratorTestSuite) TestNextTurnHostOnly() {
	enc := s.createEncounter(partyCampaign)
	s.activateParty(enc.ID)

	_, err := s.svc.NextTurn(s.ctx, &encounter.NextTurnInput{Identity: s.alice, EncounterID: enc.ID})
	s.True(errors.IsPermissionDenied(err))
}

func (s *OrchestratorTestSuite) TestDeleteKeepsActiveCombatant() {
	enc := s.createEncounter(soloCampaign)
	boss := s.addNPC(enc.ID, "Goblin boss", intPtr(20), nil)
	goblin := s.addNPC(enc.ID, "Goblin", intPtr(15), nil)
	wolf := s.addNPC(enc.ID, "Wolf", intPtr(10), nil)

	_, err := s.svc.Activate(s.ctx, &encounter.ActivateInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	for range 2 {
		_, err = s.svc.NextTurn(s.ctx, &encounter.NextTurnInput{Identity: s.host, EncounterID: enc.ID})
		s.Require().NoError(err)
	}

	out, err := s.svc.DeleteEntry(s.ctx, &encounter.DeleteEntryInput{Identity: s.host, EncounterID: enc.ID, EntryID: boss.ID})
	s.Require().NoError(err)
	s.Equal(1, out.Encounter.CurrentTurnIndex)

	list, err := s.svc.GetInitiative(s.ctx, &encounter.GetInitiativeInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Equal(wolf.ID, list.ActiveEntryID)

	out, err = s.svc.DeleteEntry(s.ctx, &encounter.DeleteEntryInput{Identity: s.host, EncounterID: enc.ID, EntryID: wolf.ID})
	s.Require().NoError(err)
	s.Equal(0, out.Encounter.CurrentTurnIndex)

	list, err = s.svc.GetInitiative(s.ctx, &encounter.GetInitiativeInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Equal(goblin.ID, list.ActiveEntryID)

	_, err = s.svc.DeleteEntry(s.ctx, &encounter.DeleteEntryInput{Identity: s.host, EncounterID: enc.ID, EntryID: wolf.ID})
	s.True(errors.IsNotFound(err))
}

func (s *OrchestratorTestSuite) TestMemberCannotPatchNPCButCanPatchOwnHP() {
	enc := s.createEncounter(partyCampaign)
	s.activateParty(enc.ID)
	npc := s.addNPC(enc.ID, "Ogre", nil, intPtr(59))
	own := s.entryOf(enc.ID, "user_alice")

	sub, err := s.svc.Subscribe(s.ctx, &encounter.SubscribeInput{Identity: s.host, CampaignID: partyCampaign})
	s.Require().NoError(err)
	defer sub.Stream.Close()

	_, err = s.svc.UpdateEntry(s.ctx, &encounter.UpdateEntryInput{
		Identity:    s.alice,
		EncounterID: enc.ID,
		EntryID:     npc.ID,
		Patch:       encounter.EntryPatch{HP: encounter.Some(0)},
	})
	s.True(errors.IsPermissionDenied(err))

	out, err := s.svc.UpdateEntry(s.ctx, &encounter.UpdateEntryInput{
		Identity:    s.alice,
		EncounterID: enc.ID,
		EntryID:     own.ID,
		Patch:       encounter.EntryPatch{HP: encounter.Some(5)},
	})
	s.Require().NoError(err)
	s.Require().NotNil(out.Event)
	s.Equal(entities.EventTypeHPChange, out.Event.Type)
	s.Equal(5, *out.Entry.HP)

	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	evt, err := sub.Stream.Next(ctx)
	s.Require().NoError(err)
	s.Equal(out.Event.Seq, evt.Seq)
	s.Equal(entities.EventTypeHPChange, evt.Type)

	var payload entities.HPChangePayload
	s.Require().NoError(evt.DecodePayload(&payload))
	s.Equal(12, *payload.OldHP)
	s.Equal(5, *payload.NewHP)
}

func (s *OrchestratorTestSuite) TestPatchEmitsOneEvent() {
	enc := s.createEncounter(soloCampaign)
	npc := s.addNPC(enc.ID, "Ogre", nil, intPtr(59))

	out, err := s.svc.UpdateEntry(s.ctx, &encounter.UpdateEntryInput{
		Identity:    s.host,
		EncounterID: enc.ID,
		EntryID:     npc.ID,
		Patch:       encounter.EntryPatch{CurrentInitiative: encounter.Some(12)},
	})
	s.Require().NoError(err)
	s.Equal(entities.EventTypeInitiativeChange, out.Event.Type)

	out, err = s.svc.UpdateEntry(s.ctx, &encounter.UpdateEntryInput{
		Identity:    s.host,
		EncounterID: enc.ID,
		EntryID:     npc.ID,
		Patch: encounter.EntryPatch{
			HP:    encounter.Some(40),
			AC:    encounter.Null[int](),
			Notes: encounter.Some("bloodied"),
		},
	})
	s.Require().NoError(err)
	s.Equal(entities.EventTypeEntryUpdated, out.Event.Type)
	s.Nil(out.Entry.AC)

	var payload entities.EntryUpdatedPayload
	s.Require().NoError(out.Event.DecodePayload(&payload))
	s.Len(payload.Changes, 3)

	seq := s.latestSeq(soloCampaign)
	out, err = s.svc.UpdateEntry(s.ctx, &encounter.UpdateEntryInput{
		Identity:    s.host,
		EncounterID: enc.ID,
		EntryID:     npc.ID,
		Patch:       encounter.EntryPatch{HP: encounter.Some(40)},
	})
	s.Require().NoError(err)
	s.Nil(out.Event)
	s.Equal(seq, s.latestSeq(soloCampaign))
}

func (s *OrchestratorTestSuite) TestPatchValidation() {
	enc := s.createEncounter(soloCampaign)
	npc := s.addNPC(enc.ID, "Ogre", nil, nil)

	testCases := []struct {
		name  string
		patch encounter.EntryPatch
	}{
		{name: "null name", patch: encounter.EntryPatch{Name: encounter.Null[string]()}},
		{name: "null bonus", patch: encounter.EntryPatch{InitiativeBonus: encounter.Null[int]()}},
		{name: "negative hp", patch: encounter.EntryPatch{HP: encounter.Some(-1)}},
		{name: "bonus too high", patch: encounter.EntryPatch{InitiativeBonus: encounter.Some(21)}},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			_, err := s.svc.UpdateEntry(s.ctx, &encounter.UpdateEntryInput{
				Identity:    s.host,
				EncounterID: enc.ID,
				EntryID:     npc.ID,
				Patch:       tc.patch,
			})
			s.True(errors.IsInvalidArgument(err))
		})
	}
}

func (s *OrchestratorTestSuite) TestMemberViewIsRedacted() {
	enc := s.createEncounter(partyCampaign)
	s.activateParty(enc.ID)
	npc := s.addNPC(enc.ID, "Ogre", nil, intPtr(59))

	_, err := s.svc.UpdateEntry(s.ctx, &encounter.UpdateEntryInput{
		Identity:    s.host,
		EncounterID: enc.ID,
		EntryID:     npc.ID,
		Patch:       encounter.EntryPatch{HP: encounter.Some(20)},
	})
	s.Require().NoError(err)

	view, err := s.svc.GetInitiative(s.ctx, &encounter.GetInitiativeInput{Identity: s.alice, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Equal(access.RoleMember, view.Role)
	for _, e := range view.Entries {
		if e.ID == npc.ID {
			s.Nil(e.HP)
			s.Nil(e.AC)
			s.Nil(e.Notes)
		}
	}

	page, err := s.svc.ListEvents(s.ctx, &encounter.ListEventsInput{
		Identity:   s.alice,
		CampaignID: partyCampaign,
		Descending: true,
		Limit:      1,
	})
	s.Require().NoError(err)
	s.Require().Len(page.Events, 1)
	s.Equal(entities.EventTypeHPChange, page.Events[0].Type)

	var payload entities.HPChangePayload
	s.Require().NoError(page.Events[0].DecodePayload(&payload))
	s.Nil(payload.OldHP)
	s.Nil(payload.NewHP)

	hostView, err := s.svc.GetInitiative(s.ctx, &encounter.GetInitiativeInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	for _, e := range hostView.Entries {
		if e.ID == npc.ID {
			s.Equal(20, *e.HP)
		}
	}
}

func (s *OrchestratorTestSuite) TestRefreshOwnEntry() {
	enc := s.createEncounter(partyCampaign)
	s.activateParty(enc.ID)

	s.characters.EXPECT().
		FetchCharacter(gomock.Any(), "char_alice", "tok-alice").
		Return(&character.Character{
			ID:            "char_alice",
			Name:          "Aria Swift",
			AbilityScores: character.AbilityScores{Dexterity: 14},
			Features:      []character.Feature{{Name: "Alert", InitiativeBonus: 5}},
			HP:            intPtr(20),
		}, nil)

	out, err := s.svc.RefreshEntryFromCharacter(s.ctx, &encounter.RefreshEntryInput{
		Identity:    s.alice,
		EncounterID: enc.ID,
	})
	s.Require().NoError(err)
	s.Equal("Aria Swift", out.Entry.Name)
	s.Equal(7, out.Entry.InitiativeBonus)
	s.Equal(20, *out.Entry.HP)
	s.Equal(12, *out.Entry.MaxHP, "fields the character lacks keep their stored value")
	s.Require().NotNil(out.Event)
	s.Equal(entities.EventTypeEntryUpdated, out.Event.Type)
}

func (s *OrchestratorTestSuite) TestRefreshRules() {
	enc := s.createEncounter(partyCampaign)
	s.activateParty(enc.ID)
	npc := s.addNPC(enc.ID, "Ogre", nil, nil)
	bobEntry := s.entryOf(enc.ID, "user_bob")

	_, err := s.svc.RefreshEntryFromCharacter(s.ctx, &encounter.RefreshEntryInput{
		Identity:    s.alice,
		EncounterID: enc.ID,
		EntryID:     bobEntry.ID,
	})
	s.True(errors.IsPermissionDenied(err))

	_, err = s.svc.RefreshEntryFromCharacter(s.ctx, &encounter.RefreshEntryInput{
		Identity:    s.host,
		EncounterID: enc.ID,
		EntryID:     npc.ID,
	})
	s.True(errors.IsInvalidArgument(err))

	_, err = s.svc.RefreshEntryFromCharacter(s.ctx, &encounter.RefreshEntryInput{
		Identity:    s.host,
		EncounterID: enc.ID,
	})
	s.True(errors.IsNotFound(err), "host has no entry of their own")

	mocks.ExpectCharacterUnavailable(s.characters, testutils.BobCharID, "tok-host")

	_, err = s.svc.RefreshEntryFromCharacter(s.ctx, &encounter.RefreshEntryInput{
		Identity:    s.host,
		EncounterID: enc.ID,
		EntryID:     bobEntry.ID,
	})
	s.True(errors.IsUnavailable(err))
}

func (s *OrchestratorTestSuite) TestRollInitiative() {
	enc := s.createEncounter(partyCampaign)
	s.activateParty(enc.ID)
	own := s.entryOf(enc.ID, "user_alice")

	_, err := s.svc.RollInitiative(s.ctx, &encounter.RollInitiativeInput{
		Identity:    s.bob,
		EncounterID: enc.ID,
		EntryID:     own.ID,
	})
	s.True(errors.IsPermissionDenied(err))

	out, err := s.svc.RollInitiative(s.ctx, &encounter.RollInitiativeInput{
		Identity:    s.alice,
		EncounterID: enc.ID,
		EntryID:     own.ID,
	})
	s.Require().NoError(err)
	s.Equal(15, out.Roll.Natural)
	s.Equal(15, *out.Entry.CurrentInitiative)

	list, err := s.svc.GetInitiative(s.ctx, &encounter.GetInitiativeInput{Identity: s.alice, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Equal(own.ID, list.Entries[0].ID, "rolled entry sorts above unrolled ones")
	s.Equal(own.ID, list.ActiveEntryID)

	page, err := s.svc.ListEvents(s.ctx, &encounter.ListEventsInput{Identity: s.host, CampaignID: partyCampaign, Descending: true, Limit: 1})
	s.Require().NoError(err)
	var payload entities.InitiativeChangePayload
	s.Require().NoError(page.Events[0].DecodePayload(&payload))
	s.Require().NotNil(payload.Roll)
	s.Equal(15, *payload.Roll)
	s.Nil(payload.OldInitiative)
}

func (s *OrchestratorTestSuite) TestCreatePlayerEntry() {
	enc := s.createEncounter(partyCampaign)

	_, err := s.svc.CreateEntry(s.ctx, &encounter.CreateEntryInput{
		Identity:    s.host,
		EncounterID: enc.ID,
		Type:        entities.EntryTypePlayer,
		Player:      &encounter.PlayerSpec{UserID: "user_alice", CharacterID: "char_bob"},
	})
	s.True(errors.IsInvalidArgument(err), "pair is not on the roster")

	alice := testutils.CreateTestCharacter(testutils.AliceCharID)
	alice.AbilityScores.Dexterity = 12
	mocks.ExpectCharacterFetch(s.characters, "tok-host", alice)

	out, err := s.svc.CreateEntry(s.ctx, &encounter.CreateEntryInput{
		Identity:    s.host,
		EncounterID: enc.ID,
		Type:        entities.EntryTypePlayer,
		Player:      &encounter.PlayerSpec{UserID: "user_alice", CharacterID: "char_alice"},
	})
	s.Require().NoError(err)
	s.Equal("Aria", out.Entry.Name)
	s.Equal(1, out.Entry.InitiativeBonus)
	s.True(out.Entry.OwnedBy("user_alice"))

	_, err = s.svc.CreateEntry(s.ctx, &encounter.CreateEntryInput{
		Identity:    s.host,
		EncounterID: enc.ID,
		Type:        entities.EntryTypePlayer,
		Player:      &encounter.PlayerSpec{UserID: "user_alice", CharacterID: "char_alice"},
	})
	s.True(errors.IsAlreadyExists(err))

	_, err = s.svc.CreateEntry(s.ctx, &encounter.CreateEntryInput{
		Identity:    s.alice,
		EncounterID: enc.ID,
		Type:        entities.EntryTypeNPC,
		NPC:         &encounter.NPCSpec{Name: "Kobold"},
	})
	s.True(errors.IsPermissionDenied(err))

	_, err = s.svc.CreateEntry(s.ctx, &encounter.CreateEntryInput{
		Identity:    s.host,
		EncounterID: enc.ID,
		Type:        entities.EntryType("monster"),
	})
	s.True(errors.IsInvalidArgument(err))
}

func (s *OrchestratorTestSuite) TestEnsureMemberEntriesWaitsForStart() {
	enc := s.createEncounter(partyCampaign)

	out, err := s.svc.EnsureMemberEntries(s.ctx, &encounter.EnsureMemberEntriesInput{Identity: s.alice, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Empty(out.Created)

	list, err := s.svc.GetInitiative(s.ctx, &encounter.GetInitiativeInput{Identity: s.alice, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Empty(list.Entries)
	s.Empty(list.ActiveEntryID)
}

func (s *OrchestratorTestSuite) TestEndEncounterDoesNotBlockTurns() {
	enc := s.createEncounter(soloCampaign)
	s.addNPC(enc.ID, "Goblin", intPtr(10), nil)
	_, err := s.svc.Activate(s.ctx, &encounter.ActivateInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)

	ended, err := s.svc.EndEncounter(s.ctx, &encounter.EndEncounterInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Equal(entities.EncounterStatusEnded, ended.Encounter.Status())

	seq := s.latestSeq(soloCampaign)
	_, err = s.svc.EndEncounter(s.ctx, &encounter.EndEncounterInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Equal(seq, s.latestSeq(soloCampaign))

	next, err := s.svc.NextTurn(s.ctx, &encounter.NextTurnInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Equal(2, next.Encounter.CurrentRound)
}

func (s *OrchestratorTestSuite) TestConcurrentAdvancesSerialize() {
	enc := s.createEncounter(soloCampaign)
	s.addNPC(enc.ID, "Goblin boss", intPtr(20), nil)
	s.addNPC(enc.ID, "Goblin", intPtr(15), nil)
	s.addNPC(enc.ID, "Wolf", intPtr(10), nil)
	_, err := s.svc.Activate(s.ctx, &encounter.ActivateInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	before := s.latestSeq(soloCampaign)

	const advances = 30
	var wg sync.WaitGroup
	errs := make(chan error, advances)
	for range advances {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.NextTurn(s.ctx, &encounter.NextTurnInput{Identity: s.host, EncounterID: enc.ID})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	got, err := s.svc.GetEncounter(s.ctx, &encounter.GetEncounterInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Equal(1+advances/3, got.Encounter.CurrentRound)
	s.Equal(0, got.Encounter.CurrentTurnIndex)
	s.Equal(before+advances, s.latestSeq(soloCampaign))
}

func (s *OrchestratorTestSuite) TestAdvanceRacesDelete() {
	enc := s.createEncounter(soloCampaign)
	var doomed []*entities.InitiativeEntry
	for i := range 11 {
		doomed = append(doomed, s.addNPC(enc.ID, "Kobold", intPtr(30-i), nil))
	}
	survivor := s.addNPC(enc.ID, "Goblin boss", intPtr(5), nil)
	_, err := s.svc.Activate(s.ctx, &encounter.ActivateInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	before := s.latestSeq(soloCampaign)

	var wg sync.WaitGroup
	errs := make(chan error, 2*len(doomed))
	for _, entry := range doomed {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.svc.DeleteEntry(s.ctx, &encounter.DeleteEntryInput{Identity: s.host, EncounterID: enc.ID, EntryID: entry.ID})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := s.svc.NextTurn(s.ctx, &encounter.NextTurnInput{Identity: s.host, EncounterID: enc.ID})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	list, err := s.svc.GetInitiative(s.ctx, &encounter.GetInitiativeInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Require().Len(list.Entries, 1)
	s.Equal(survivor.ID, list.ActiveEntryID)

	got, err := s.svc.GetEncounter(s.ctx, &encounter.GetEncounterInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Equal(0, got.Encounter.CurrentTurnIndex)
	s.Equal(before+uint64(2*len(doomed)), s.latestSeq(soloCampaign))
}

func (s *OrchestratorTestSuite) TestFailedCommitPublishesNothing() {
	enc := s.createEncounter(soloCampaign)
	npc := s.addNPC(enc.ID, "Ogre", nil, intPtr(59))
	before := s.latestSeq(soloCampaign)

	sub, err := s.hub.Subscribe(s.ctx, soloCampaign)
	s.Require().NoError(err)
	defer sub.Close()

	s.flaky.FailTransactions(true)
	_, err = s.svc.UpdateEntry(s.ctx, &encounter.UpdateEntryInput{
		Identity:    s.host,
		EncounterID: enc.ID,
		EntryID:     npc.ID,
		Patch:       encounter.EntryPatch{HP: encounter.Some(5)},
	})
	s.flaky.FailTransactions(false)
	s.True(errors.IsUnavailable(err))

	list, err := s.svc.GetInitiative(s.ctx, &encounter.GetInitiativeInput{Identity: s.host, EncounterID: enc.ID})
	s.Require().NoError(err)
	s.Require().Len(list.Entries, 1)
	s.Require().NotNil(list.Entries[0].HP)
	s.Equal(59, *list.Entries[0].HP)

	logged, err := s.eventLog.List(s.ctx, &events.ListInput{CampaignID: soloCampaign, Cursor: before})
	s.Require().NoError(err)
	s.Empty(logged.Events)

	select {
	case evt := <-sub.Events():
		s.Failf("unexpected publish", "got %s", evt.Type)
	default:
	}
}

func (s *OrchestratorTestSuite) TestStreamReplaysWithoutDuplicates() {
	enc := s.createEncounter(soloCampaign)
	s.addNPC(enc.ID, "Goblin", nil, nil)

	since := uint64(0)
	sub, err := s.svc.Subscribe(s.ctx, &encounter.SubscribeInput{
		Identity:   s.host,
		CampaignID: soloCampaign,
		Since:      &since,
	})
	s.Require().NoError(err)
	defer sub.Stream.Close()

	// committed after subscribing, so it is both in the log and in the live buffer
	s.addNPC(enc.ID, "Wolf", nil, nil)

	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	var seqs []uint64
	for range 3 {
		evt, err := sub.Stream.Next(ctx)
		s.Require().NoError(err)
		seqs = append(seqs, evt.Seq)
	}
	s.Equal([]uint64{1, 2, 3}, seqs)

	short, cancelShort := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancelShort()
	_, err = sub.Stream.Next(short)
	s.Equal(errors.CodeCanceled, errors.GetCode(err))
	s.Equal(uint64(3), sub.Stream.LastSeq())
}

func (s *OrchestratorTestSuite) TestSlowStreamIsDropped() {
	enc := s.createEncounter(soloCampaign)

	sub, err := s.svc.Subscribe(s.ctx, &encounter.SubscribeInput{Identity: s.host, CampaignID: soloCampaign})
	s.Require().NoError(err)
	defer sub.Stream.Close()

	for range hubBuffer + 1 {
		s.addNPC(enc.ID, "Kobold", nil, nil)
	}
	s.Equal(0, s.hub.SubscriberCount(soloCampaign))

	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	for range hubBuffer {
		_, err := sub.Stream.Next(ctx)
		s.Require().NoError(err)
	}
	_, err = sub.Stream.Next(ctx)
	s.True(errors.IsUnavailable(err))
}

func intPtr(i int) *int {
	return &i
}

func strPtr(v string) *string {
	return &v
}
