package service

import (
	"regexp"
	"strings"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
)

// fastPathRule maps unambiguous phrasing onto exactly one category.
type fastPathRule struct {
	category executor.Category
	phrases  []string
}

var fastPathRules = []fastPathRule{
	{executor.CategoryDiscovery, []string{
		"list my resources", "list resources", "show my resources", "list resource groups",
		"show resource groups", "list my subscriptions", "what resources do i have", "inventory of",
	}},
	{executor.CategoryCostManagement, []string{
		"how much am i spending", "what is my spend", "cost breakdown", "monthly cost",
		"cost report", "show my costs", "spending trend", "budget status",
	}},
	{executor.CategoryEnvironment, []string{
		"list environments", "show environments", "environment status", "list my environments",
		"tear down the environment", "clone the environment", "scale the environment",
	}},
	{executor.CategoryCompliance, []string{
		"run a compliance scan", "compliance report", "ato package", "generate the ssp",
		"poa&m", "control family",
	}},
	{executor.CategoryKnowledge, []string{
		"what can you do", "how do i use", "what is the difference between", "help me understand",
	}},
}

// matchFastPath returns the single category whose phrases appear in the
// normalized message. Matches in more than one category are ambiguous and
// return false.
func matchFastPath(normalized string) (executor.Category, bool) {
	var found executor.Category
	for _, r := range fastPathRules {
		if !containsAny(normalized, r.phrases) {
			continue
		}
		if found != "" {
			return "", false
		}
		found = r.category
	}
	return found, found != ""
}

// keywordWeights drive the fallback classifier when the planning oracle is
// unavailable or returns nothing usable. Keywords match whole words; a
// trailing "*" marks a stem that matches any word starting with it.
var keywordWeights = map[executor.Category]map[string]int{
	executor.CategoryCompliance: {
		"compliance": 3, "nist": 3, "stig*": 3, "fedramp": 3, "ato": 2, "security": 2,
		"vulnerab*": 2, "scan*": 1, "audit*": 2, "control*": 1, "800-53": 3, "cmmc": 3,
	},
	executor.CategoryInfrastructure: {
		"template*": 3, "bicep": 3, "terraform": 3, "arm": 1, "iac": 3, "module*": 1,
		"generat*": 1, "scaffold*": 2, "infrastructure": 2,
	},
	executor.CategoryDeployment: {
		"deploy*": 3, "provision*": 3, "rollout": 2, "release*": 1, "pipeline*": 1,
	},
	executor.CategoryEnvironment: {
		"environment*": 3, "clone*": 2, "scale*": 2, "teardown": 2, "tear down": 2, "health": 1,
	},
	executor.CategoryDiscovery: {
		"list": 2, "inventory": 3, "discover*": 3, "find": 1, "resource group*": 2, "resources": 1,
	},
	executor.CategoryCostManagement: {
		"cost*": 3, "spend*": 3, "budget*": 3, "price": 2, "pricing": 2, "saving*": 2, "billing": 2,
	},
	executor.CategoryKnowledge: {
		"what is": 1, "explain*": 2, "how do": 1, "documentation": 2, "docs": 1,
	},
}

type weightedKeyword struct {
	re     *regexp.Regexp
	weight int
}

var keywordMatchers = compileKeywords(keywordWeights)

func compileKeywords(weights map[executor.Category]map[string]int) map[executor.Category][]weightedKeyword {
	out := make(map[executor.Category][]weightedKeyword, len(weights))
	for c, kws := range weights {
		for kw, w := range kws {
			out[c] = append(out[c], weightedKeyword{re: keywordPattern(kw), weight: w})
		}
	}
	return out
}

func keywordPattern(kw string) *regexp.Regexp {
	if stem, ok := strings.CutSuffix(kw, "*"); ok {
		return regexp.MustCompile(`\b` + regexp.QuoteMeta(stem))
	}
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
}

// scoreCategories returns the highest-scoring category for the message.
// Ties resolve in catalogue order; no signal at all selects knowledge.
func scoreCategories(normalized string) executor.Category {
	best := executor.CategoryKnowledge
	bestScore := 0
	for _, c := range executor.Categories() {
		score := 0
		for _, k := range keywordMatchers[c] {
			if k.re.MatchString(normalized) {
				score += k.weight
			}
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

var (
	assessVerbRe = regexp.MustCompile(`\b(audit|check|scan|assess|review|evaluat)\w*`)
	assessNounRe = regexp.MustCompile(`\b(complian\w*|security|secure|nist|stig\w*|fedramp|ato|vulnerab\w*|800-53|cmmc|fisma)\b`)

	urgencyRe = regexp.MustCompile(`\b(now|immediately|right away|for real|go ahead)\b`)
	// Verb forms only; "deployment" and "deployments" are nouns.
	deployVerbRe   = regexp.MustCompile(`\b(deploy|provision|launch)(s|ed|ing)?\b|\b(spin|stand)s? up\b|\brolls? out\b`)
	clauseSplitRe  = regexp.MustCompile(`[,;.!?]+|\b(then|but|also|afterwards)\b`)
	questionLeadRe = regexp.MustCompile(`^(what|which|when|where|why|how|who|did|does|do|is|are|was|were|has|have|list|show)\b`)
	executePhrases = []string{
		"deploy it now", "go ahead and deploy", "execute the deployment", "provision it now", "make it live",
	}

	templateRe = regexp.MustCompile(`\b(templates?|bicep|terraform|arm templates?|iac|infrastructure as code|generate code|scaffold\w*)\b`)
)

// isAssessmentRequest matches an assessment verb together with a
// compliance or security noun.
func isAssessmentRequest(normalized string) bool {
	return assessVerbRe.MatchString(normalized) && assessNounRe.MatchString(normalized)
}

// isExecuteNowRequest matches a fixed execution phrase, or urgency and a
// deploy verb within the same clause. Clauses phrased as questions never
// match.
func isExecuteNowRequest(normalized string) bool {
	if containsAny(normalized, executePhrases) {
		return true
	}
	for _, clause := range clauseSplitRe.Split(normalized, -1) {
		clause = strings.TrimSpace(clause)
		if questionLeadRe.MatchString(clause) {
			continue
		}
		if urgencyRe.MatchString(clause) && deployVerbRe.MatchString(clause) {
			return true
		}
	}
	return false
}

// isTemplateRequest matches template or code-generation phrasing.
func isTemplateRequest(normalized string) bool {
	return templateRe.MatchString(normalized)
}

// recallTargets maps the nouns a recall question may ask about onto the
// workflow fact that answers it.
var recallTargets = []struct {
	nouns []string
	fact  string
}{
	{[]string{"subscription"}, conversation.FactSubscriptionID},
	{[]string{"resource group", "rg"}, conversation.FactResourceGroup},
	{[]string{"region", "location"}, conversation.FactRegion},
}

var (
	recallLeadRe   = regexp.MustCompile(`^(which|what)\b`)
	recallMarkers  = []string{"did i", "was i", "i used", "i was using", "am i using", "we used", "last", "previous", "again"}
	recallNounWord = regexp.MustCompile(`\b(subscription|resource group|rg|region|location)\b`)
)

// recallFact returns the workflow fact a narrow recall question asks
// about, such as "which subscription did I use?".
func recallFact(normalized string) (string, bool) {
	if !recallLeadRe.MatchString(normalized) || !containsAny(normalized, recallMarkers) {
		return "", false
	}
	noun := recallNounWord.FindString(normalized)
	if noun == "" {
		return "", false
	}
	for _, t := range recallTargets {
		for _, n := range t.nouns {
			if n == noun {
				return t.fact, true
			}
		}
	}
	return "", false
}

// quickReplies are offered after each outcome, keyed by primary intent.
var quickReplies = map[string][]string{
	string(executor.CategoryCompliance):     {"Show failing controls", "Generate remediation plan", "Export ATO evidence"},
	string(executor.CategoryInfrastructure): {"Deploy this template", "Add monitoring", "Estimate cost"},
	string(executor.CategoryDeployment):     {"Show deployment status", "Run compliance scan", "Roll back"},
	string(executor.CategoryEnvironment):    {"Show environment health", "Clone environment", "Scale environment"},
	string(executor.CategoryDiscovery):      {"Show resource details", "Check compliance", "Estimate cost"},
	string(executor.CategoryCostManagement): {"Show savings opportunities", "Set a budget alert", "Compare regions"},
	string(executor.CategoryKnowledge):      {"Check compliance", "Generate a template", "List my resources"},
}

var defaultQuickReplies = []string{"Check compliance", "List my resources", "Estimate cost"}

func quickRepliesFor(intent string) []string {
	if r, ok := quickReplies[intent]; ok {
		return append([]string(nil), r...)
	}
	return append([]string(nil), defaultQuickReplies...)
}
