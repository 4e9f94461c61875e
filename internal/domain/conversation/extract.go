package conversation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	guidPattern          = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	resourceGroupPattern = regexp.MustCompile(`(?i)\bresource[- ]group\s+(?:named\s+|called\s+)?["']?([a-z0-9][a-z0-9._()-]{0,89})`)
	rgShortPattern       = regexp.MustCompile(`(?i)\brg[-_][a-z0-9._-]+`)
	regionPattern        = regexp.MustCompile(`(?i)\b(usgov(?:virginia|arizona|texas|iowa)|eastus2?|westus[23]?|centralus|northeurope|westeurope|uksouth)\b`)
)

// rgStopWords are words that commonly follow "resource group" without naming one.
var rgStopWords = map[string]bool{
	"for": true, "in": true, "to": true, "with": true, "and": true,
	"the": true, "that": true, "is": true, "was": true, "did": true,
}

// ExtractFacts pulls workflow facts out of free text: subscription GUIDs,
// resource group names and Azure regions.
func ExtractFacts(text string) map[string]string {
	out := map[string]string{}
	if m := guidPattern.FindString(text); m != "" {
		out[FactSubscriptionID] = strings.ToLower(m)
	}
	if m := resourceGroupPattern.FindStringSubmatch(text); m != nil && !rgStopWords[strings.ToLower(m[1])] {
		out[FactResourceGroup] = strings.TrimRight(m[1], ".,;:")
	} else if m := rgShortPattern.FindString(text); m != "" {
		out[FactResourceGroup] = strings.TrimRight(m, ".,;:")
	}
	if m := regionPattern.FindString(text); m != "" {
		out[FactRegion] = strings.ToLower(m)
	}
	return out
}

// metadataFactKeys maps result metadata keys onto workflow fact keys.
var metadataFactKeys = map[string]string{
	"subscription_id": FactSubscriptionID,
	"subscriptionId":  FactSubscriptionID,
	"resource_group":  FactResourceGroup,
	"resourceGroup":   FactResourceGroup,
	"region":          FactRegion,
	"location":        FactRegion,
}

// FactsFromMetadata pulls workflow facts out of executor result metadata.
func FactsFromMetadata(md map[string]any) map[string]string {
	out := map[string]string{}
	for k, fact := range metadataFactKeys {
		v, ok := md[k]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			out[fact] = s
		}
	}
	return out
}
