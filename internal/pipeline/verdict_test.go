package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
)

func TestAutomatedStatus(t *testing.T) {
	tests := []struct {
		name   string
		output map[string]string
		want   models.AutomatedStatus
	}{
		{"absent", nil, models.StatusPending},
		{"adult very likely", map[string]string{"adult": "VERY_LIKELY"}, models.StatusBlocked},
		{"racy very likely", map[string]string{"racy": "VERY_LIKELY", "adult": "UNLIKELY"}, models.StatusBlocked},
		{"lower case tier", map[string]string{"adult": "very_likely"}, models.StatusBlocked},
		{"adult likely", map[string]string{"adult": "LIKELY"}, models.StatusApproved},
		{"empty output", map[string]string{}, models.StatusApproved},
		{"other category at top tier", map[string]string{"violence": "VERY_LIKELY"}, models.StatusApproved},
		{"unknown tier fails closed", map[string]string{"adult": "SOMEWHAT"}, models.StatusPending},
		{"unknown tier beside a hit", map[string]string{"adult": "SOMEWHAT", "racy": "VERY_LIKELY"}, models.StatusBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pipeline.AutomatedStatus(tt.output))
		})
	}
}

func TestParseLikelihood(t *testing.T) {
	l, ok := pipeline.ParseLikelihood(" possible ")
	assert.True(t, ok)
	assert.Equal(t, pipeline.LikelihoodPossible, l)

	_, ok = pipeline.ParseLikelihood("")
	assert.False(t, ok)
}
