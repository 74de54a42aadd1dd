package state

// #region policy-key
// PolicyKey is the dispatch-policy part of a state. Fields are nil until the
// dispatcher has chosen them; nil is hashed as an explicit null.
type PolicyKey struct {
	Toolchain         *string `json:"toolchain"`
	PromptGenomeID    *string `json:"prompt_genome_id"`
	TemperatureBucket *string `json:"temperature_bucket"`
}

// IsEmpty reports whether no policy field has been chosen yet.
func (p PolicyKey) IsEmpty() bool {
	return p.Toolchain == nil && p.PromptGenomeID == nil && p.TemperatureBucket == nil
}

// ToolchainName returns the toolchain or "" when unset.
func (p PolicyKey) ToolchainName() string {
	if p.Toolchain == nil {
		return ""
	}
	return *p.Toolchain
}

// Str returns a pointer to s, for filling PolicyKey literals.
func Str(s string) *string {
	return &s
}

// #endregion policy-key

// #region state
// State is a discretized, hashed snapshot of where an execution is.
// Build it with BuildState; never mutate it afterwards.
type State struct {
	ID       string            `json:"state_id"`
	Domain   string            `json:"domain"`
	JobType  string            `json:"job_type"`
	Features map[string]string `json:"features"`
	Policy   PolicyKey         `json:"policy_key"`
}

// Phase returns the bucketed execution phase, or "" if the state has none.
func (s State) Phase() string {
	return s.Features[FeaturePhase]
}

// BaseID is the id of this state with the policy key cleared: the identity a
// dispatcher sees before it has chosen a toolchain.
func (s State) BaseID() string {
	if s.Policy.IsEmpty() {
		return s.ID
	}
	return hashCanonical(canonicalString(s.Domain, s.JobType, s.Features, PolicyKey{}))
}

// #endregion state

// #region feature-keys
// Well-known feature keys. Other keys are allowed.
const (
	FeaturePhase     = "phase"
	FeatureDiffSize  = "diff_size"
	FeatureFailures  = "failures"
	FeatureDuration  = "duration"
	FeatureTestsPass = "tests_pass"
)

// #endregion feature-keys
