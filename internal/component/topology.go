package component

import (
	"strings"

	"github.com/bissquit/status-aggregator/internal/domain"
)

// Component names used by the static topology.
const (
	RootName              = "Registry"
	GalleryName           = "Gallery"
	RestoreName           = "Restore"
	V3ProtocolName        = "V3 Protocol"
	V2ProtocolName        = "V2 Protocol"
	SearchName            = "Search"
	PackagePublishingName = "Package Publishing"
	GlobalRegionName      = "Global"
	ChinaRegionName       = "China"
	USNCInstanceName      = "USNC"
	USSCInstanceName      = "USSC"
	EAInstanceName        = "EA"
	SEAInstanceName       = "SEA"
)

// Well-known component paths.
var (
	GalleryPath           = domain.JoinPath(RootName, GalleryName)
	RestorePath           = domain.JoinPath(RootName, RestoreName)
	V3ProtocolPath        = domain.JoinPath(RestorePath, V3ProtocolName)
	V3GlobalPath          = domain.JoinPath(V3ProtocolPath, GlobalRegionName)
	V3ChinaPath           = domain.JoinPath(V3ProtocolPath, ChinaRegionName)
	V2ProtocolPath        = domain.JoinPath(RestorePath, V2ProtocolName)
	SearchPath            = domain.JoinPath(RootName, SearchName)
	SearchGlobalPath      = domain.JoinPath(SearchPath, GlobalRegionName)
	SearchChinaPath       = domain.JoinPath(SearchPath, ChinaRegionName)
	PackagePublishingPath = domain.JoinPath(RootName, PackagePublishingName)
)

// NewRoot builds a fresh copy of the service topology with every status Up.
// Regional components hold hidden per-instance subcomponents.
func NewRoot() *Component {
	return New(RootName, "", KindTree, true,
		New(GalleryName, "Browsing the Gallery website", KindActivePassive, false,
			Leaf(USSCInstanceName, "Primary region"),
			Leaf(USNCInstanceName, "Secondary region"),
		),
		New(RestoreName, "Downloading and installing packages from the registry", KindTree, true,
			New(V3ProtocolName, "Restore using the V3 API", KindTree, true,
				globalRegion("Restore using the V3 API in Global region"),
				chinaRegion("Restore using the V3 API in China region"),
			),
			Leaf(V2ProtocolName, "Restore using the V2 API"),
		),
		New(SearchName, "Searching for packages from clients and the website", KindTree, true,
			globalRegion("Search for packages within the Global region"),
			chinaRegion("Search for packages within the China region"),
		),
		Leaf(PackagePublishingName, "Uploading new packages and making them available"),
	)
}

func globalRegion(description string) *Component {
	return New(GlobalRegionName, description, KindActiveActive, false,
		Leaf(USNCInstanceName, "North Central US instance"),
		Leaf(USSCInstanceName, "South Central US instance"),
	)
}

func chinaRegion(description string) *Component {
	return New(ChinaRegionName, description, KindActiveActive, false,
		Leaf(EAInstanceName, "East Asia instance"),
		Leaf(SEAInstanceName, "Southeast Asia instance"),
	)
}

// DisplayName renders a path for humans: the root is dropped and the remaining
// names read most specific first, e.g. "Global V3 Protocol Restore".
func DisplayName(path string) string {
	segments := domain.SplitPath(path)
	if len(segments) <= 1 {
		return path
	}
	segments = segments[1:]
	reversed := make([]string, len(segments))
	for i, s := range segments {
		reversed[len(segments)-1-i] = s
	}
	return strings.Join(reversed, " ")
}
