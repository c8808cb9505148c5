package pipeline

import (
	"sort"

	"github.com/akmatori/nocpilot/internal/models"
)

// store holds the pipeline's events, analyses and actions. Callers hold Pipeline.mu.
type store struct {
	events          map[string]*models.Event
	eventOrder      []string
	analyses        map[string]*models.AIAnalysis
	actions         map[string]*models.RemediationAction
	actionOrder     []string
	actionsByEvent  map[string][]string
	requestByAction map[string]string
}

func newStore() *store {
	return &store{
		events:          make(map[string]*models.Event),
		analyses:        make(map[string]*models.AIAnalysis),
		actions:         make(map[string]*models.RemediationAction),
		actionsByEvent:  make(map[string][]string),
		requestByAction: make(map[string]string),
	}
}

func (s *store) addEvent(ev *models.Event) {
	s.events[ev.ID] = ev
	s.eventOrder = append(s.eventOrder, ev.ID)
}

func (s *store) addAction(a *models.RemediationAction) {
	s.actions[a.ID] = a
	s.actionOrder = append(s.actionOrder, a.ID)
	s.actionsByEvent[a.EventID] = append(s.actionsByEvent[a.EventID], a.ID)
}

// recentEvents returns events newest first; ties keep the later submission first
func (s *store) recentEvents(limit int) []*models.Event {
	out := make([]*models.Event, 0, len(s.eventOrder))
	for i := len(s.eventOrder) - 1; i >= 0; i-- {
		out = append(out, s.events[s.eventOrder[i]].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return truncate(out, limit)
}

// recentActions returns actions newest first; ties keep the later creation first
func (s *store) recentActions(limit int) []*models.RemediationAction {
	out := make([]*models.RemediationAction, 0, len(s.actionOrder))
	for i := len(s.actionOrder) - 1; i >= 0; i-- {
		out = append(out, s.actions[s.actionOrder[i]].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit)
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
