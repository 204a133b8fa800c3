package workflow

import (
	"context"
	"fmt"
)

// GuardFunc decides whether a conditional edge applies to the request fields
type GuardFunc func(ctx context.Context, fields map[string]interface{}) (bool, error)

// GraphBuilder builds an immutable stage graph
type GraphBuilder interface {
	// Configure returns the configuration for a stage. Stages are ordered
	// by their first Configure call.
	Configure(state State) StateConfiguration

	// Build validates the table and returns the graph
	Build(initial State) (*Graph, error)
}

// StateConfiguration configures the edges leaving one stage
type StateConfiguration interface {
	// Permit allows an action to move the stage to the target state
	Permit(action Action, toState State) StateConfiguration

	// PermitIf allows an action to move to the target when the guard passes.
	// Guarded edges are tried in declaration order.
	PermitIf(action Action, toState State, guard GuardFunc) StateConfiguration
}

type transition struct {
	toState State
	guard   GuardFunc
}

type stateConfig struct {
	fromState   State
	transitions map[Action][]transition
}

type graphBuilder struct {
	name           string
	order          []State
	configurations map[State]*stateConfig
}

// NewBuilder creates a builder for a named graph
func NewBuilder(name string) GraphBuilder {
	return &graphBuilder{
		name:           name,
		configurations: make(map[State]*stateConfig),
	}
}

// Configure returns the configuration for the given stage
func (b *graphBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() || state.IsTerminal() {
		panic(fmt.Sprintf("invalid stage: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			fromState:   state,
			transitions: make(map[Action][]transition),
		}
		b.configurations[state] = config
		b.order = append(b.order, state)
	}

	return config
}

// Build checks that every reachable stage is configured and that every
// action has an unguarded fallback edge, then freezes the table.
func (b *graphBuilder) Build(initial State) (*Graph, error) {
	if _, ok := b.configurations[initial]; !ok {
		return nil, fmt.Errorf("%w: initial stage %s is not configured", ErrIncompleteGraph, initial)
	}

	configs := make(map[State]*stateConfig, len(b.configurations))
	for state, config := range b.configurations {
		if len(config.transitions) == 0 {
			return nil, fmt.Errorf("%w: stage %s has no transitions", ErrIncompleteGraph, state)
		}

		copied := make(map[Action][]transition, len(config.transitions))
		for action, edges := range config.transitions {
			if edges[len(edges)-1].guard != nil {
				return nil, fmt.Errorf("%w: %s on %s has no unguarded fallback", ErrIncompleteGraph, action, state)
			}
			for _, edge := range edges {
				if edge.toState.IsTerminal() {
					continue
				}
				if _, ok := b.configurations[edge.toState]; !ok {
					return nil, fmt.Errorf("%w: %s leads to unconfigured stage %s", ErrIncompleteGraph, state, edge.toState)
				}
			}
			copied[action] = append([]transition{}, edges...)
		}
		configs[state] = &stateConfig{fromState: state, transitions: copied}
	}

	return &Graph{
		name:           b.name,
		initial:        initial,
		order:          append([]State{}, b.order...),
		configurations: configs,
	}, nil
}

// Permit allows an action to move the stage to the target state
func (c *stateConfig) Permit(action Action, toState State) StateConfiguration {
	return c.PermitIf(action, toState, nil)
}

// PermitIf allows an action to move to the target when the guard passes
func (c *stateConfig) PermitIf(action Action, toState State, guard GuardFunc) StateConfiguration {
	if !action.IsValid() {
		panic(fmt.Sprintf("invalid action: %s", action))
	}
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	c.transitions[action] = append(c.transitions[action], transition{
		toState: toState,
		guard:   guard,
	})

	return c
}
