package pipeline

import (
	"strings"

	"github.com/PaulBabatuyi/filebox/internal/models"
)

// Likelihood is one tier of the classifier's confidence scale.
type Likelihood int

const (
	LikelihoodUnknown Likelihood = iota
	LikelihoodVeryUnlikely
	LikelihoodUnlikely
	LikelihoodPossible
	LikelihoodLikely
	LikelihoodVeryLikely
)

var likelihoodNames = map[string]Likelihood{
	"UNKNOWN":       LikelihoodUnknown,
	"VERY_UNLIKELY": LikelihoodVeryUnlikely,
	"UNLIKELY":      LikelihoodUnlikely,
	"POSSIBLE":      LikelihoodPossible,
	"LIKELY":        LikelihoodLikely,
	"VERY_LIKELY":   LikelihoodVeryLikely,
}

// ParseLikelihood reports false for values outside the known scale.
func ParseLikelihood(s string) (Likelihood, bool) {
	l, ok := likelihoodNames[strings.ToUpper(strings.TrimSpace(s))]
	return l, ok
}

// Categories that block a file at the highest tier.
var blockingCategories = []string{"adult", "racy"}

// VerdictKind is the interpreted form of a classifier output.
type VerdictKind int

const (
	// VerdictAbsent means the classifier has not produced output.
	VerdictAbsent VerdictKind = iota
	// VerdictFlagged means a blocking category hit the highest tier.
	VerdictFlagged
	// VerdictClean means every blocking category was read and none hit.
	VerdictClean
	// VerdictUnreadable means a blocking category carried a value outside
	// the known scale.
	VerdictUnreadable
)

var verdictStatus = map[VerdictKind]models.AutomatedStatus{
	VerdictAbsent:     models.StatusPending,
	VerdictFlagged:    models.StatusBlocked,
	VerdictClean:      models.StatusApproved,
	VerdictUnreadable: models.StatusPending,
}

// ClassifyVerdict interprets raw classifier output. Keys other than the
// blocking categories are ignored.
func ClassifyVerdict(output map[string]string) VerdictKind {
	if output == nil {
		return VerdictAbsent
	}
	kind := VerdictClean
	for _, category := range blockingCategories {
		raw, ok := output[category]
		if !ok {
			continue
		}
		l, known := ParseLikelihood(raw)
		if !known {
			kind = VerdictUnreadable
			continue
		}
		if l == LikelihoodVeryLikely {
			return VerdictFlagged
		}
	}
	return kind
}

// AutomatedStatus maps classifier output to a task status. Anything the
// table does not know about stays pending.
func AutomatedStatus(output map[string]string) models.AutomatedStatus {
	if status, ok := verdictStatus[ClassifyVerdict(output)]; ok {
		return status
	}
	return models.StatusPending
}
