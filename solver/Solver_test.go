package solver

import (
	"encoding/json"
	"testing"
)

func TestSolverJSON(t *testing.T) {
	tests := []struct {
		name string
		new  func() (*Solver, error)
	}{
		{"Adam", func() (*Solver, error) { return NewDefaultAdam(1e-4, 1) }},
		{"Vanilla", func() (*Solver, error) { return NewVanilla(0.01, 1, 5) }},
		{"RMSProp", func() (*Solver, error) {
			return NewDefaultRMSProp(0.01, 4)
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s, err := test.new()
			if err != nil {
				t.Fatal(err)
			}

			data, err := json.Marshal(s)
			if err != nil {
				t.Fatal(err)
			}

			var decoded Solver
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("could not unmarshal %s: %v", data, err)
			}

			if decoded.Type != s.Type {
				t.Errorf("type: want(%v) have(%v)", s.Type, decoded.Type)
			}
			if decoded.Config != s.Config {
				t.Errorf("config: want(%v) have(%v)", s.Config,
					decoded.Config)
			}
			if decoded.Solver == nil {
				t.Errorf("gorgonia solver was not created")
			}
		})
	}
}

func TestSolverUnmarshalUnknownType(t *testing.T) {
	var s Solver
	err := json.Unmarshal([]byte(`{"Type":"SGDR","Config":{}}`), &s)
	if err == nil {
		t.Errorf("expected error for unknown solver type")
	}
}

func TestNewRMSPropEta(t *testing.T) {
	if _, err := NewRMSProp(0.01, 1e-8, 0.1, 0.9, 1, -1); err == nil {
		t.Errorf("expected error for unsupported η")
	}
}

func TestClone(t *testing.T) {
	s, err := NewDefaultAdam(1e-4, 1)
	if err != nil {
		t.Fatal(err)
	}

	c := s.Clone()
	if c.Config != s.Config || c.Type != s.Type {
		t.Errorf("clone: configuration differs")
	}
	if c.Solver == s.Solver {
		t.Errorf("clone: internal solver state is shared")
	}
}

func TestCloneUncreated(t *testing.T) {
	c := (&Solver{}).Clone()
	if c.Solver != nil {
		t.Errorf("clone: expected uncreated solver")
	}
	if err := c.Step(nil); err == nil {
		t.Errorf("step: expected error for uncreated solver")
	}
}
