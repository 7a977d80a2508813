package risk

import (
	"regexp"
	"strings"

	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

// Tier base scores. A critical-tier hit wins outright; high-tier hits
// score below critical; medium-tier hits accumulate toward a cap.
const (
	criticalTierScore = 0.9
	highTierScore     = 0.7
	mediumTierBase    = 0.3
	mediumTierStep    = 0.1
	mediumTierCap     = 0.6
)

// domainWeight scales the tier base score per domain before clamping.
var domainWeights = map[RiskDomain]float64{
	DomainSuicide:        1.0,
	DomainSelfHarm:       0.95,
	DomainViolence:       0.95,
	DomainPsychosis:      0.9,
	DomainSubstanceAbuse: 0.85,
	DomainEatingDisorder: 0.85,
	DomainTrauma:         0.8,
	DomainNeglect:        0.8,
}

type domainLexicon struct {
	critical []*regexp.Regexp
	high     []*regexp.Regexp
	medium   []*regexp.Regexp
}

// LexiconScorer maps raw text to per-domain risk scores in [0,1] using
// tiered term lists with case-insensitive, word-boundary matching. It
// holds no mutable state and is safe for concurrent use.
type LexiconScorer struct {
	logger   *logging.Logger
	lexicons map[RiskDomain]*domainLexicon
}

// NewLexiconScorer builds the scorer with the built-in clinical lexicons.
func NewLexiconScorer(logger *logging.Logger) *LexiconScorer {
	if logger == nil {
		logger = logging.Default()
	}

	s := &LexiconScorer{
		logger:   logger.WithComponent("lexicon-scorer"),
		lexicons: make(map[RiskDomain]*domainLexicon),
	}

	s.lexicons[DomainSuicide] = buildLexicon(
		[]string{
			`kill myself`, `end my life`, `suicide plan`, `want to die tonight`,
			`goodbye forever`, `wrote (a|my) (suicide )?note`, `have a plan`,
		},
		[]string{
			`suicidal?`, `want to die`, `better off dead`, `end it all`,
			`no reason to live`, `take my (own )?life`,
		},
		[]string{
			`hopeless`, `worthless`, `can'?t go on`, `burden to everyone`,
			`no way out`, `tired of living`, `what'?s the point`,
		},
	)

	s.lexicons[DomainSelfHarm] = buildLexicon(
		[]string{
			`cutting myself( right now)?`, `about to (cut|hurt) myself`,
			`burn(ed|ing) myself`,
		},
		[]string{
			`hurt(ing)? myself`, `self[- ]harm`, `cut(ting)? myself`,
			`punish myself`, `deserve (the )?pain`,
		},
		[]string{
			`hate my body`, `need to feel something`, `scratch(ing)? myself`,
			`old scars`,
		},
	)

	s.lexicons[DomainViolence] = buildLexicon(
		[]string{
			`kill (him|her|them|someone)`, `going to hurt (him|her|them|someone)`,
			`shoot (up|them|him|her)`, `make them pay with`,
		},
		[]string{
			`want to hurt (him|her|them|someone|somebody)`, `violent thoughts`,
			`lose control and hurt`, `revenge on`,
		},
		[]string{
			`so angry i could`, `rage`, `want to smash`, `furious at everyone`,
		},
	)

	s.lexicons[DomainSubstanceAbuse] = buildLexicon(
		[]string{
			`overdos(e|ed|ing)`, `drank (a whole|an entire)`, `took all (my|the) pills`,
		},
		[]string{
			`relaps(e|ed|ing)`, `can'?t stop (drinking|using)`, `blackout drunk`,
			`using again`,
		},
		[]string{
			`drinking (a lot|too much|every day)`, `getting high`, `need a drink`,
			`wasted`, `hungover again`,
		},
	)

	s.lexicons[DomainPsychosis] = buildLexicon(
		[]string{
			`voices? (are )?telling me to (die|hurt|kill)`,
			`commanded me to`,
		},
		[]string{
			`hearing voices`, `they'?re watching me`, `everyone is against me`,
			`not real anymore`, `hallucinat(e|ing|ions?)`,
		},
		[]string{
			`paranoid`, `being followed`, `can'?t trust anyone`,
			`strange signs`, `losing my mind`,
		},
	)

	s.lexicons[DomainNeglect] = buildLexicon(
		[]string{
			`haven'?t eaten in days`, `can'?t take care of (my kids|the baby|myself anymore)`,
		},
		[]string{
			`stopped (showering|bathing|eating)`, `not taking (my )?(meds|medication)`,
			`sleeping all day every day`,
		},
		[]string{
			`no energy to`, `letting everything go`, `mess everywhere`,
			`haven'?t left (the house|my bed)`,
		},
	)

	s.lexicons[DomainTrauma] = buildLexicon(
		[]string{
			`reliving the (attack|assault|accident)`, `just (got|was) assaulted`,
		},
		[]string{
			`flashbacks?`, `nightmares? about`, `triggered by`, `ptsd`,
			`can'?t stop remembering`,
		},
		[]string{
			`abus(e|ed|ive)`, `what happened to me`, `jumpy`, `on edge`,
			`numb since`,
		},
	)

	s.lexicons[DomainEatingDisorder] = buildLexicon(
		[]string{
			`haven'?t eaten in (a week|\d+ days) on purpose`, `purging every (day|meal)`,
		},
		[]string{
			`starving myself`, `purg(e|ed|ing)`, `binge (and )?purge`,
			`throw(ing)? up (after|my) (meals?|eating|food)`,
		},
		[]string{
			`hate eating`, `counting every calorie`, `feel fat`, `skipping meals`,
			`scared of food`,
		},
	)

	return s
}

func buildLexicon(critical, high, medium []string) *domainLexicon {
	return &domainLexicon{
		critical: compileTerms(critical),
		high:     compileTerms(high),
		medium:   compileTerms(medium),
	}
}

func compileTerms(terms []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(terms))
	for _, term := range terms {
		compiled = append(compiled, regexp.MustCompile(`(?i)\b(`+term+`)\b`))
	}
	return compiled
}

// Score evaluates the text against each requested domain's lexicon and
// returns per-domain scores in [0,1]. Empty domains means all domains.
func (s *LexiconScorer) Score(text string, domains []RiskDomain) map[RiskDomain]float64 {
	if len(domains) == 0 {
		domains = AllDomains
	}

	scores := make(map[RiskDomain]float64, len(domains))
	text = strings.TrimSpace(text)
	if text == "" {
		for _, d := range domains {
			scores[d] = 0
		}
		return scores
	}

	for _, domain := range domains {
		scores[domain] = s.scoreDomain(text, domain)
	}
	return scores
}

func (s *LexiconScorer) scoreDomain(text string, domain RiskDomain) float64 {
	lex, ok := s.lexicons[domain]
	if !ok {
		return 0
	}

	base := 0.0
	switch {
	case anyMatch(lex.critical, text):
		base = criticalTierScore
	case anyMatch(lex.high, text):
		base = highTierScore
	default:
		if n := countMatches(lex.medium, text); n > 0 {
			base = mediumTierBase + mediumTierStep*float64(n)
			if base > mediumTierCap {
				base = mediumTierCap
			}
		}
	}
	if base == 0 {
		return 0
	}

	weight, ok := domainWeights[domain]
	if !ok {
		weight = 1.0
	}
	return clamp01(base * weight)
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, p := range patterns {
		if p.MatchString(text) {
			n++
		}
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
