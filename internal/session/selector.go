package session

import "math/rand"

// ModelSelector picks the model for one turn.
type ModelSelector interface {
	Select() string
}

// UniformSelector picks uniformly at random among candidates.
type UniformSelector struct {
	candidates []string
	intn       func(int) int
}

func NewUniformSelector(candidates []string) *UniformSelector {
	return &UniformSelector{
		candidates: append([]string(nil), candidates...),
		intn:       rand.Intn,
	}
}

// Select returns "" when there are no candidates.
func (s *UniformSelector) Select() string {
	switch len(s.candidates) {
	case 0:
		return ""
	case 1:
		return s.candidates[0]
	default:
		return s.candidates[s.intn(len(s.candidates))]
	}
}
