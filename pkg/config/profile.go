package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/tfarhan00/tahu-program/pkg/governance"
)

// SupportedProfileVersions is the schema_version range LoadProfile accepts.
const SupportedProfileVersions = ">=1.0.0, <2.0.0"

// Profile is the governance profile: the policy switches and an optional
// approval rule.
type Profile struct {
	SchemaVersion           string `yaml:"schema_version" json:"schema_version"`
	VoteCounting            string `yaml:"vote_counting" json:"vote_counting"`
	ExecutionMode           string `yaml:"execution_mode" json:"execution_mode"`
	RequireMembership       bool   `yaml:"require_membership" json:"require_membership"`
	EnforceVotingWindow     bool   `yaml:"enforce_voting_window" json:"enforce_voting_window"`
	ValidateChangesOnCreate bool   `yaml:"validate_changes_on_create" json:"validate_changes_on_create"`
	ApprovalRule            string `yaml:"approval_rule,omitempty" json:"approval_rule,omitempty"`
}

// DefaultProfile mirrors governance.DefaultPolicy.
func DefaultProfile() *Profile {
	p := governance.DefaultPolicy()
	return &Profile{
		SchemaVersion:           "1.0.0",
		VoteCounting:            string(p.VoteCounting),
		ExecutionMode:           string(p.ExecutionMode),
		RequireMembership:       p.RequireMembership,
		EnforceVotingWindow:     p.EnforceVotingWindow,
		ValidateChangesOnCreate: p.ValidateChangesOnCreate,
	}
}

// LoadProfile reads a profile YAML. Keys absent from the file keep their
// DefaultProfile value. An empty path returns DefaultProfile.
func LoadProfile(path string) (*Profile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", path, err)
	}
	return profile, nil
}

// Validate checks the schema version and the policy enums.
func (p *Profile) Validate() error {
	v, err := semver.NewVersion(p.SchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid schema_version %q: %w", p.SchemaVersion, err)
	}
	c, err := semver.NewConstraint(SupportedProfileVersions)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("schema_version %s outside %s", v, SupportedProfileVersions)
	}
	return p.Policy().Validate()
}

// Policy converts the profile to an engine policy.
func (p *Profile) Policy() governance.Policy {
	return governance.Policy{
		VoteCounting:            governance.VoteCounting(strings.ToLower(p.VoteCounting)),
		ExecutionMode:           governance.ExecutionMode(strings.ToLower(p.ExecutionMode)),
		RequireMembership:       p.RequireMembership,
		EnforceVotingWindow:     p.EnforceVotingWindow,
		ValidateChangesOnCreate: p.ValidateChangesOnCreate,
	}
}

// Rule compiles the approval rule. It returns nil when none is set.
func (p *Profile) Rule() (governance.ApprovalRule, error) {
	if strings.TrimSpace(p.ApprovalRule) == "" {
		return nil, nil
	}
	rule, err := governance.NewCELApprovalRule(p.ApprovalRule)
	if err != nil {
		return nil, err
	}
	return rule, nil
}
