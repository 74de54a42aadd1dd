package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// #region build-state
// BuildState canonicalizes the inputs and derives the state id.
// Pure: the same logical inputs always give the same id, whatever the map order.
// The features map is copied; callers may reuse theirs.
func BuildState(domain, jobType string, features map[string]string, policy PolicyKey) State {
	feats := make(map[string]string, len(features))
	for k, v := range features {
		feats[k] = v
	}
	pk := PolicyKey{
		Toolchain:         clonePtr(policy.Toolchain),
		PromptGenomeID:    clonePtr(policy.PromptGenomeID),
		TemperatureBucket: clonePtr(policy.TemperatureBucket),
	}
	return State{
		ID:       hashCanonical(canonicalString(domain, jobType, feats, pk)),
		Domain:   domain,
		JobType:  jobType,
		Features: feats,
		Policy:   pk,
	}
}

// #endregion build-state

// #region canonical
// canonicalString renders the versioned, pipe-delimited canonical form:
//
//	STATE|v1|"domain"|"job"|"k1"="v1";"k2"="v2"|"tool"|null|null
//
// Every value is Go-quoted so separators inside values cannot collide.
func canonicalString(domain, jobType string, features map[string]string, policy PolicyKey) string {
	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, strconv.Quote(k)+"="+strconv.Quote(features[k]))
	}

	return fmt.Sprintf("STATE|v1|%s|%s|%s|%s|%s|%s",
		strconv.Quote(domain),
		strconv.Quote(jobType),
		strings.Join(pairs, ";"),
		optional(policy.Toolchain),
		optional(policy.PromptGenomeID),
		optional(policy.TemperatureBucket),
	)
}

func optional(p *string) string {
	if p == nil {
		return "null"
	}
	return strconv.Quote(*p)
}

func hashCanonical(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// #endregion canonical
