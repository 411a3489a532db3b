// Package features derives the fixed feature map the classifier was trained
// on. Extraction is a pure function of one request's metadata plus its
// frequency view; every key in the enumerated set is populated on every
// call, with sentinels for anything missing.
package features

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mileusna/useragent"

	"github.com/scrapewall/backend/internal/events"
	"github.com/scrapewall/backend/internal/kvstore"
)

// FeatureMap is a closed name-to-value mapping. Values are float64 for
// numeric features and string for categorical ones.
type FeatureMap map[string]interface{}

// Num returns a numeric feature, or the sentinel when the key holds a
// non-numeric value.
func (f FeatureMap) Num(key string) float64 {
	if v, ok := f[key].(float64); ok {
		return v
	}
	return -1
}

// Str returns a categorical feature.
func (f FeatureMap) Str(key string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return "Unknown"
}

// KeySet enumerates the feature keys in training order. The frequency count
// key embeds the window length, so the set depends on the configured window.
// The model artifact's feature_names must match this list byte for byte.
func KeySet(windowSeconds int) []string {
	return []string{
		"ua_length",
		"status_code",
		"bytes_sent",
		"http_method",
		"path_depth",
		"path_length",
		"path_is_root",
		"path_has_docs",
		"path_is_wp",
		"path_disallowed",
		"ua_is_known_bad",
		"ua_is_known_benign_crawler",
		"ua_is_empty",
		"ua_browser_family",
		"ua_os_family",
		"ua_device_family",
		"ua_is_mobile",
		"ua_is_tablet",
		"ua_is_pc",
		"ua_is_touch",
		"ua_library_is_bot",
		"referer_is_empty",
		"referer_has_domain",
		"hour_of_day",
		"day_of_week",
		fmt.Sprintf("req_freq_%ds", windowSeconds),
		"time_since_last_sec",
	}
}

// Analyzer bundles the load-once inputs of feature extraction: the UA watch
// lists and the robots rules. Immutable after construction.
type Analyzer struct {
	Lists  *UALists
	Robots *Robots
}

// NewAnalyzer builds an extraction context. robots may be nil when no
// robots.txt is configured.
func NewAnalyzer(lists *UALists, robots *Robots) *Analyzer {
	if lists == nil {
		lists = NewUALists(nil, nil)
	}
	return &Analyzer{Lists: lists, Robots: robots}
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Extract produces the full feature map for one request. Deterministic for
// a given (metadata, frequency) pair.
func (a *Analyzer) Extract(meta *events.RequestMetadata, freq kvstore.FreqInfo) FeatureMap {
	ua := meta.UserAgent
	path := meta.Path

	fm := FeatureMap{
		"ua_length":   float64(len(ua)),
		"status_code": meta.ExtraNumber("status_code", -1),
		"bytes_sent":  meta.ExtraNumber("bytes_sent", -1),
		"http_method": meta.ExtraString("http_method", "Unknown"),

		"path_depth":      float64(pathDepth(path)),
		"path_length":     float64(len(path)),
		"path_is_root":    boolFeature(path == "/"),
		"path_has_docs":   boolFeature(strings.Contains(strings.ToLower(path), "docs")),
		"path_is_wp":      boolFeature(strings.Contains(strings.ToLower(path), "wp-")),
		"path_disallowed": boolFeature(a.Robots.Disallowed(path)),

		"ua_is_known_bad":            boolFeature(a.Lists.IsKnownBad(ua)),
		"ua_is_known_benign_crawler": boolFeature(a.Lists.IsKnownBenign(ua)),
		"ua_is_empty":                boolFeature(ua == ""),

		"referer_is_empty":   boolFeature(meta.Referer == ""),
		"referer_has_domain": boolFeature(refererHasDomain(meta.Referer)),

		fmt.Sprintf("req_freq_%ds", freq.WindowSeconds): float64(freq.CountBefore),
		"time_since_last_sec":                           freq.SinceLastSec,
	}

	a.parseUA(ua, fm)

	hour, day := -1.0, -1.0
	if t, err := meta.ParseTime(); err == nil {
		hour = float64(t.Hour())
		day = float64(int(t.Weekday()))
	}
	fm["hour_of_day"] = hour
	fm["day_of_week"] = day

	return fm
}

// parseUA fills the library-derived UA features. The parser never fails
// outright; empty results degrade to "Unknown" and the library bot bit
// mirrors the watch-list match when the string yields nothing.
func (a *Analyzer) parseUA(ua string, fm FeatureMap) {
	parsed := useragent.Parse(ua)

	family := func(s string) string {
		if s == "" {
			return "Unknown"
		}
		return s
	}
	fm["ua_browser_family"] = family(parsed.Name)
	fm["ua_os_family"] = family(parsed.OS)
	fm["ua_device_family"] = family(parsed.Device)
	fm["ua_is_mobile"] = boolFeature(parsed.Mobile)
	fm["ua_is_tablet"] = boolFeature(parsed.Tablet)
	fm["ua_is_pc"] = boolFeature(parsed.Desktop)
	fm["ua_is_touch"] = boolFeature(parsed.Mobile || parsed.Tablet)

	if parsed.Name == "" && parsed.OS == "" {
		fm["ua_library_is_bot"] = fm["ua_is_known_bad"]
	} else {
		fm["ua_library_is_bot"] = boolFeature(parsed.Bot)
	}
}

func pathDepth(path string) int {
	depth := 0
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

func refererHasDomain(referer string) bool {
	if referer == "" {
		return false
	}
	u, err := url.Parse(referer)
	if err != nil {
		return false
	}
	return u.Hostname() != ""
}
