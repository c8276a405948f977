package render

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructure_WireShape(t *testing.T) {
	s := Structure{
		Graph:         []Edge{{From: 0, To: 2}, {From: 2, To: 1}},
		StepSummary:   []string{"START", "END", "Set up"},
		StepIsCorrect: []bool{true, true, true},
		Submissions:   []Submission{{UID: "s1", Nodes: []int{0, 2, 1}}},
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"graph": [[0,2],[2,1]],
		"step_summary": ["START","END","Set up"],
		"step_is_correct": [true,true,true],
		"submissions": [{"submission_uid":"s1","submission_nodes":[0,2,1]}]
	}`, string(data))
	assert.Equal(t, 3, s.NodeCount())
}

func TestEdge_UnmarshalRejectsWrongArity(t *testing.T) {
	var e Edge
	require.NoError(t, json.Unmarshal([]byte(`[3,4]`), &e))
	assert.Equal(t, Edge{From: 3, To: 4}, e)

	assert.Error(t, json.Unmarshal([]byte(`[1]`), &e))
}
