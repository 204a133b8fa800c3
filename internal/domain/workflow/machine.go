package workflow

import (
	"context"
	"fmt"
	"sort"
)

// Graph is an immutable stage transition table
type Graph struct {
	name           string
	initial        State
	order          []State
	configurations map[State]*stateConfig
}

// Name returns the graph name
func (g *Graph) Name() string {
	return g.name
}

// Initial returns the first stage of the graph
func (g *Graph) Initial() State {
	return g.initial
}

// Stages returns the stages in declaration order
func (g *Graph) Stages() []State {
	return append([]State{}, g.order...)
}

// Level returns the 1-based ordinal of a stage, or 0 if unknown
func (g *Graph) Level(state State) int {
	for i, s := range g.order {
		if s == state {
			return i + 1
		}
	}
	return 0
}

// Contains reports whether the stage is part of the graph
func (g *Graph) Contains(state State) bool {
	_, ok := g.configurations[state]
	return ok
}

// Next resolves the target of an action from a stage without mutating anything
func (g *Graph) Next(ctx context.Context, from State, action Action, fields map[string]interface{}) (State, error) {
	config, exists := g.configurations[from]
	if !exists {
		return "", fmt.Errorf("%w: %s is not a stage of %s", ErrInvalidState, from, g.name)
	}

	edges, exists := config.transitions[action]
	if !exists || len(edges) == 0 {
		return "", fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, action, from)
	}

	for _, edge := range edges {
		if edge.guard == nil {
			return edge.toState, nil
		}
		ok, err := edge.guard(ctx, fields)
		if err != nil {
			return "", fmt.Errorf("%w: %s from %s: %v", ErrGuardFailed, action, from, err)
		}
		if ok {
			return edge.toState, nil
		}
	}

	return "", fmt.Errorf("%w: %s from %s", ErrGuardFailed, action, from)
}

// Permitted returns the actions declared for a stage, sorted
func (g *Graph) Permitted(from State) []Action {
	config, exists := g.configurations[from]
	if !exists {
		return []Action{}
	}

	actions := make([]Action, 0, len(config.transitions))
	for action := range config.transitions {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })

	return actions
}

// CanFire reports whether the action is declared for a stage
func (g *Graph) CanFire(from State, action Action) bool {
	config, exists := g.configurations[from]
	if !exists {
		return false
	}
	return len(config.transitions[action]) > 0
}
