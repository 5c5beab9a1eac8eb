package parse

import (
	"fmt"

	"github.com/bissquit/status-aggregator/internal/component"
	"github.com/bissquit/status-aggregator/internal/domain"
)

// Parser names.
const (
	ProbeCheckParserName        = "probe_check"
	TrafficManagerParserName    = "traffic_manager"
	ValidationBacklogParserName = "validation_backlog"
	OutdatedSearchParserName    = "outdated_search"
	AvailabilityTestParserName  = "availability_test"
)

// Config controls which incidents the default parsers accept.
type Config struct {
	Environments    []string
	MaximumSeverity int
}

func instancePath(region, instance string) string {
	return domain.JoinPath(region, instance)
}

// probeChecks maps synthetic probe check names to affected components.
var probeChecks = Lookup{
	"Gallery homepage":         {component.GalleryPath, domain.ComponentStatusDown},
	"Gallery package details":  {component.GalleryPath, domain.ComponentStatusDegraded},
	"V3 restore (Global)":      {component.V3GlobalPath, domain.ComponentStatusDown},
	"V3 restore (China)":       {component.V3ChinaPath, domain.ComponentStatusDown},
	"V2 restore":               {component.V2ProtocolPath, domain.ComponentStatusDown},
	"Search query (Global)":    {component.SearchGlobalPath, domain.ComponentStatusDegraded},
	"Search query (China)":     {component.SearchChinaPath, domain.ComponentStatusDegraded},
	"Package push":             {component.PackagePublishingPath, domain.ComponentStatusDown},
	"Search autocomplete (US)": {instancePath(component.SearchGlobalPath, component.USNCInstanceName), domain.ComponentStatusDown},
}

// trafficManagerEndpoints maps "domain|target" pairs to the instance behind the endpoint.
var trafficManagerEndpoints = Lookup{
	"www.registry.example|usnc": {instancePath(component.GalleryPath, component.USNCInstanceName), domain.ComponentStatusDown},
	"www.registry.example|ussc": {instancePath(component.GalleryPath, component.USSCInstanceName), domain.ComponentStatusDown},
	"api.registry.example|usnc": {instancePath(component.V3GlobalPath, component.USNCInstanceName), domain.ComponentStatusDown},
	"api.registry.example|ussc": {instancePath(component.V3GlobalPath, component.USSCInstanceName), domain.ComponentStatusDown},
	"api.registry.cn|ea":        {instancePath(component.V3ChinaPath, component.EAInstanceName), domain.ComponentStatusDown},
	"api.registry.cn|sea":       {instancePath(component.V3ChinaPath, component.SEAInstanceName), domain.ComponentStatusDown},
}

// searchInstances maps search service instance names to their component.
var searchInstances = Lookup{
	"usnc": {instancePath(component.SearchGlobalPath, component.USNCInstanceName), domain.ComponentStatusDegraded},
	"ussc": {instancePath(component.SearchGlobalPath, component.USSCInstanceName), domain.ComponentStatusDegraded},
	"ea":   {instancePath(component.SearchChinaPath, component.EAInstanceName), domain.ComponentStatusDegraded},
	"sea":  {instancePath(component.SearchChinaPath, component.SEAInstanceName), domain.ComponentStatusDegraded},
}

// availabilityTests maps availability test names to affected components.
var availabilityTests = Lookup{
	"Gallery availability":        {component.GalleryPath, domain.ComponentStatusDegraded},
	"V3 restore availability":     {component.V3ProtocolPath, domain.ComponentStatusDegraded},
	"Search availability":         {component.SearchPath, domain.ComponentStatusDegraded},
	"Package upload availability": {component.PackagePublishingPath, domain.ComponentStatusDegraded},
}

// NewProbeCheckParser parses synthetic probe failures:
// "Probe check 'Gallery homepage' is failing".
func NewProbeCheckParser(cfg Config) (*RegexParser, error) {
	return NewRegexParser(ProbeCheckParserName,
		`^Probe check '(?P<Check>[^']+)' is failing`,
		probeChecks.Resolver("Check"),
		NewSeverityFilter(cfg.MaximumSeverity),
	)
}

// NewTrafficManagerParser parses endpoint outages:
// "[PROD] Traffic Manager for api.registry.example is reporting usnc as not Online!".
func NewTrafficManagerParser(cfg Config) (*RegexParser, error) {
	resolve := func(match Match) (string, domain.ComponentStatus, bool) {
		target, ok := trafficManagerEndpoints[match["Domain"]+"|"+match["Target"]]
		return target.Path, target.Status, ok
	}
	return NewEnvironmentPrefixParser(TrafficManagerParserName,
		`Traffic Manager for (?P<Domain>\S+) is reporting (?P<Target>\S+) as not Online!`,
		resolve,
		NewEnvironmentFilter(cfg.Environments),
		NewSeverityFilter(cfg.MaximumSeverity),
	)
}

// NewValidationBacklogParser parses publishing delays:
// "[PROD] Too many packages are stuck in the Validating state!".
func NewValidationBacklogParser(cfg Config) (*RegexParser, error) {
	return NewEnvironmentPrefixParser(ValidationBacklogParserName,
		`Too many packages are stuck in the Validating state!`,
		Fixed(component.PackagePublishingPath, domain.ComponentStatusDegraded),
		NewEnvironmentFilter(cfg.Environments),
		NewSeverityFilter(cfg.MaximumSeverity),
	)
}

// NewOutdatedSearchParser parses stale search instances:
// "[PROD] Search service 'usnc' is outdated".
func NewOutdatedSearchParser(cfg Config) (*RegexParser, error) {
	return NewEnvironmentPrefixParser(OutdatedSearchParserName,
		`Search service '(?P<Instance>[^']+)' is outdated`,
		searchInstances.Resolver("Instance"),
		NewEnvironmentFilter(cfg.Environments),
		NewSeverityFilter(cfg.MaximumSeverity),
	)
}

// NewAvailabilityTestParser parses availability test alerts:
// "[PROD] Availability test 'Search availability' is failing".
func NewAvailabilityTestParser(cfg Config) (*RegexParser, error) {
	return NewEnvironmentPrefixParser(AvailabilityTestParserName,
		`Availability test '(?P<Test>[^']+)' is failing`,
		availabilityTests.Resolver("Test"),
		NewEnvironmentFilter(cfg.Environments),
		NewSeverityFilter(cfg.MaximumSeverity),
	)
}

// DefaultParsers builds every registered parser.
func DefaultParsers(cfg Config) ([]Parser, error) {
	constructors := []func(Config) (*RegexParser, error){
		NewProbeCheckParser,
		NewTrafficManagerParser,
		NewValidationBacklogParser,
		NewOutdatedSearchParser,
		NewAvailabilityTestParser,
	}

	parsers := make([]Parser, 0, len(constructors))
	for _, newParser := range constructors {
		p, err := newParser(cfg)
		if err != nil {
			return nil, fmt.Errorf("create parser: %w", err)
		}
		parsers = append(parsers, p)
	}
	return parsers, nil
}
