// Package osfamily turns free-text installed OS version strings into the
// (family, version) pairs understood by vendor advisory APIs.
package osfamily

import (
	"regexp"
	"strings"

	"golang.org/x/xerrors"
)

// Family tags. Cisco tags are the openVuln OSType path values.
const (
	IOSXE       = "iosxe"
	IOSXR       = "iosxr"
	NXOS        = "nxos"
	ASA         = "asa"
	FTD         = "ftd"
	IOS         = "ios"
	PANOS       = "panos"
	Unspecified = "unspecified"
)

var ErrUnparseable = xerrors.New("unparseable OS version")

// Rule maps a pattern to a family. Rules are evaluated in order and the first
// match wins, so more specific families must come before generic ones.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Family  string
}

// Rules is the default priority-ordered table.
//
// Explicit product names come first. Version-shape heuristics follow for
// strings that carry only a version number.
var Rules = []Rule{
	{Name: "IOS XE name", Pattern: regexp.MustCompile(`(?i)\bIOS[\s_-]?XE\b`), Family: IOSXE},
	{Name: "IOS XR name", Pattern: regexp.MustCompile(`(?i)\bIOS[\s_-]?XR\b`), Family: IOSXR},
	{Name: "NX-OS name", Pattern: regexp.MustCompile(`(?i)\bNX[\s-]?OS\b|\bNexus\b`), Family: NXOS},
	{Name: "ASA name", Pattern: regexp.MustCompile(`(?i)\bASA\b|Adaptive Security Appliance`), Family: ASA},
	{Name: "FTD name", Pattern: regexp.MustCompile(`(?i)\bFTD\b|Firepower Threat Defense`), Family: FTD},
	{Name: "PAN-OS name", Pattern: regexp.MustCompile(`(?i)\bPAN[\s-]?OS\b`), Family: PANOS},
	{Name: "IOS name", Pattern: regexp.MustCompile(`(?i)\bIOS\b`), Family: IOS},

	{Name: "PAN-OS hotfix", Pattern: regexp.MustCompile(`\b\d{1,2}\.\d+\.\d+-h\d+\b`), Family: PANOS},
	{Name: "NX-OS 9.x train", Pattern: regexp.MustCompile(`(^|\s)9\.\d+\(\d+[a-z]?\)$`), Family: NXOS},
	{Name: "IOS train", Pattern: regexp.MustCompile(`\b\d+\.\d+\([^)]+\)[a-zA-Z]*\d*`), Family: IOS},
	{Name: "IOS release letters", Pattern: regexp.MustCompile(`\b\d+\.\d+\.\d+[A-Z]+\d*\b`), Family: IOS},
	{Name: "IOS XE 3/16/17", Pattern: regexp.MustCompile(`(^|[^\d.])(3|16|17)\.\d+\.\d+[a-z]?$`), Family: IOSXE},
	{Name: "IOS XR 6/7", Pattern: regexp.MustCompile(`(^|[^\d.])[67]\.\d+\.\d+$`), Family: IOSXR},
}

var versionPattern = regexp.MustCompile(`\d+(?:\.\d+)+(?:\([^)]*\))?[A-Za-z0-9]*(?:-h\d+)?`)

type Result struct {
	Family  string
	Version string
}

// Parser applies an ordered rule table.
type Parser struct {
	rules []Rule
}

func NewParser(rules []Rule) *Parser {
	return &Parser{rules: rules}
}

var defaultParser = NewParser(Rules)

// Parse parses raw with the default rule table.
func Parse(raw string) (Result, error) {
	return defaultParser.Parse(raw)
}

// Classify returns the family of a bare version string, or Unspecified.
func Classify(version string) string {
	r, err := defaultParser.Parse(version)
	if err != nil {
		return Unspecified
	}
	return r.Family
}

func (p *Parser) Parse(raw string) (Result, error) {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return Result{}, xerrors.Errorf("empty input: %w", ErrUnparseable)
	}

	version := versionPattern.FindString(s)
	if version == "" {
		return Result{}, xerrors.Errorf("no version in %q: %w", raw, ErrUnparseable)
	}

	for _, rule := range p.rules {
		if rule.Pattern.MatchString(s) {
			return Result{Family: rule.Family, Version: version}, nil
		}
	}
	return Result{}, xerrors.Errorf("no rule matches %q: %w", raw, ErrUnparseable)
}
