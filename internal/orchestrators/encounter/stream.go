package encounter

import (
	"context"

	"github.com/KirkDiggler/rpg-encounters/internal/access"
	"github.com/KirkDiggler/rpg-encounters/internal/broadcast"
	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	"github.com/KirkDiggler/rpg-encounters/internal/repositories/events"
)

func (o *orchestrator) ListEvents(ctx context.Context, input *ListEventsInput) (*ListEventsOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}

	_, actor, err := o.resolveCampaign(ctx, input.CampaignID, input.Identity)
	if err != nil {
		return nil, err
	}

	out, err := o.eventLog.List(ctx, &events.ListInput{
		CampaignID: input.CampaignID,
		Cursor:     input.Cursor,
		Limit:      input.Limit,
		Descending: input.Descending,
	})
	if err != nil {
		return nil, err
	}

	return &ListEventsOutput{
		Events:     access.RedactEvents(actor.Role, out.Events),
		NextCursor: out.NextCursor,
		HasMore:    out.HasMore,
	}, nil
}

func (o *orchestrator) Subscribe(ctx context.Context, input *SubscribeInput) (*SubscribeOutput, error) {
	if input == nil {
		return nil, errors.InvalidArgument("input is required")
	}

	_, actor, err := o.resolveCampaign(ctx, input.CampaignID, input.Identity)
	if err != nil {
		return nil, err
	}

	// subscribe before reading history so nothing committed in between is missed
	sub, err := o.hub.Subscribe(ctx, input.CampaignID)
	if err != nil {
		return nil, err
	}

	stream := &Stream{
		sub:      sub,
		eventLog: o.eventLog,
		role:     actor.Role,
	}
	if input.Since != nil {
		stream.catchingUp = true
		stream.lastSent = *input.Since
		stream.cursor = *input.Since
	}

	return &SubscribeOutput{Stream: stream}, nil
}

// Stream yields a campaign's events redacted for one viewer: first the history
// after the requested sequence, then live events. Anything at or below the last
// delivered sequence is skipped, so the overlap between history and live events
// is never delivered twice.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	sub      *broadcast.Subscription
	eventLog events.Repository
	role     access.Role

	catchingUp bool
	backlog    []*entities.Event
	// cursor is where the next history page starts; it passes rows the log could not decode
	cursor   uint64
	lastSent uint64
}

// Next blocks until the next event is available. It returns errors.Unavailable
// once the hub dropped the stream for falling behind; the client should
// reconnect from LastSeq.
func (s *Stream) Next(ctx context.Context) (*entities.Event, error) {
	for {
		evt, err := s.next(ctx)
		if err != nil {
			return nil, err
		}
		if evt.Seq <= s.lastSent {
			continue
		}
		s.lastSent = evt.Seq
		return access.RedactEvent(s.role, evt), nil
	}
}

func (s *Stream) next(ctx context.Context) (*entities.Event, error) {
	for s.catchingUp && len(s.backlog) == 0 {
		if err := s.fill(ctx); err != nil {
			return nil, err
		}
	}
	if len(s.backlog) > 0 {
		evt := s.backlog[0]
		s.backlog = s.backlog[1:]
		return evt, nil
	}

	select {
	case <-ctx.Done():
		return nil, errors.WrapWithCode(ctx.Err(), errors.CodeCanceled, "stream closed")
	case evt, ok := <-s.sub.Events():
		if ok {
			return evt, nil
		}
		if s.sub.Dropped() {
			return nil, errors.Unavailable("event stream fell behind; reconnect from the last sequence").
				WithMeta("last_seq", s.lastSent)
		}
		return nil, errors.New(errors.CodeCanceled, "stream closed")
	}
}

// fill loads the next page of history
func (s *Stream) fill(ctx context.Context) error {
	out, err := s.eventLog.List(ctx, &events.ListInput{
		CampaignID: s.sub.CampaignID(),
		Cursor:     s.cursor,
		Limit:      events.MaxLimit,
	})
	if err != nil {
		return err
	}
	s.backlog = out.Events
	s.cursor = out.NextCursor
	if !out.HasMore {
		s.catchingUp = false
	}
	return nil
}

// LastSeq is the sequence of the last event returned by Next
func (s *Stream) LastSeq() uint64 {
	return s.lastSent
}

// Close releases the live subscription
func (s *Stream) Close() {
	s.sub.Close()
}
