package contentstack

import (
	"strings"
)

type Region string

const (
	RegionNA      Region = "NA"
	RegionEU      Region = "EU"
	RegionAzureNA Region = "AZURE_NA"
	RegionAzureEU Region = "AZURE_EU"
	RegionGCPNA   Region = "GCP_NA"
)

var deliveryHosts = map[Region]string{
	RegionNA:      "cdn.contentstack.io",
	RegionEU:      "eu-cdn.contentstack.com",
	RegionAzureNA: "azure-na-cdn.contentstack.com",
	RegionAzureEU: "azure-eu-cdn.contentstack.com",
	RegionGCPNA:   "gcp-na-cdn.contentstack.com",
}

var graphqlHosts = map[Region]string{
	RegionNA:      "graphql.contentstack.com",
	RegionEU:      "eu-graphql.contentstack.com",
	RegionAzureNA: "azure-na-graphql.contentstack.com",
	RegionAzureEU: "azure-eu-graphql.contentstack.com",
	RegionGCPNA:   "gcp-na-graphql.contentstack.com",
}

// Regions lists every supported region in a stable order.
func Regions() []Region {
	return []Region{RegionNA, RegionEU, RegionAzureNA, RegionAzureEU, RegionGCPNA}
}

func ParseRegion(value string) (Region, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if normalized == "" || normalized == "US" {
		return RegionNA, true
	}

	region := Region(normalized)
	if _, ok := deliveryHosts[region]; !ok {
		return "", false
	}
	return region, true
}

func (r Region) DeliveryHost() string {
	if host, ok := deliveryHosts[r]; ok {
		return host
	}
	return deliveryHosts[RegionNA]
}

func (r Region) GraphQLHost() string {
	if host, ok := graphqlHosts[r]; ok {
		return host
	}
	return graphqlHosts[RegionNA]
}

// baseURL accepts either a bare host or a full origin and returns an origin without a trailing slash.
func baseURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if strings.Contains(host, "://") {
		return host
	}
	return "https://" + host
}
