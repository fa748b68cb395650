// Package models defines the domain types for linktrace.
package models

import "time"

// Permission status values accepted on log entries. Anything outside this
// set is silently dropped during a merge.
const (
	PermGranted      = "granted"
	PermDenied       = "denied"
	PermNotRequested = "not_requested"
	PermBlocked      = "blocked"
)

// PermissionNames lists the capability keys a log entry tracks.
var PermissionNames = []string{"location", "cameraview", "contacts", "media", "notification"}

// ValidPermissionName reports whether name is a tracked capability.
func ValidPermissionName(name string) bool {
	for _, n := range PermissionNames {
		if n == name {
			return true
		}
	}
	return false
}

// ValidPermissionStatus reports whether status is an accepted value.
func ValidPermissionStatus(status string) bool {
	switch status {
	case PermGranted, PermDenied, PermNotRequested, PermBlocked:
		return true
	}
	return false
}

// DefaultPermissions returns the initial permission map for a new entry.
func DefaultPermissions() map[string]string {
	m := make(map[string]string, len(PermissionNames))
	for _, n := range PermissionNames {
		m[n] = PermNotRequested
	}
	return m
}

// Link is a shareable tracking endpoint. It owns its log entries; no entry
// is referenced from outside its parent link.
type Link struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	PageID    string     `json:"pageId"`
	Number    int        `json:"number"`
	URL       string     `json:"url"`
	Logs      []LogEntry `json:"logs"`
	CreatedAt time.Time  `json:"createdAt"`
}

// LastLog returns the most recently appended log entry, or nil.
func (l *Link) LastLog() *LogEntry {
	if len(l.Logs) == 0 {
		return nil
	}
	return &l.Logs[len(l.Logs)-1]
}

// FindLog returns the entry with the given id, or nil.
func (l *Link) FindLog(id string) *LogEntry {
	for i := range l.Logs {
		if l.Logs[i].ID == id {
			return &l.Logs[i]
		}
	}
	return nil
}

// LogEntry is one recorded visit against a link. It is created exactly once
// per visit and afterwards mutated in place by capture and save operations.
type LogEntry struct {
	ID          string            `json:"_id"`
	Timestamp   string            `json:"timestamp"`
	Request     RequestInfo       `json:"request"`
	Device      DeviceInfo        `json:"device"`
	ClientData  map[string]any    `json:"clientData"`
	Network     NetworkInfo       `json:"network"`
	Captures    Captures          `json:"captures"`
	Permissions map[string]string `json:"permissions"`
	Location    *Location         `json:"location,omitempty"`
	Contacts    []Contact         `json:"contacts,omitempty"`
}

// RequestInfo holds raw network request metadata.
type RequestInfo struct {
	IP        string `json:"ip"`
	RawIP     string `json:"rawIp"`
	Referrer  string `json:"referrer"`
	UserAgent string `json:"userAgent"`
}

// DeviceInfo is the parsed device classification.
type DeviceInfo struct {
	Browser      string `json:"browser"`
	OS           string `json:"os"`
	Device       string `json:"device"`
	DeviceVendor string `json:"deviceVendor"`
	DeviceType   string `json:"deviceType"`
}

// NetworkInfo is the geo/ASN/security classification derived from the
// request IP.
type NetworkInfo struct {
	IP        string      `json:"ip"`
	Location  GeoLocation `json:"location"`
	Network   ASNInfo     `json:"network"`
	Security  Security    `json:"security"`
	IsPrivate bool        `json:"is_private"`
}

// GeoLocation is the geographic portion of an IP lookup. Coordinates are
// kept as strings because upstream providers return them inconsistently.
type GeoLocation struct {
	City                string `json:"city"`
	Region              string `json:"region"`
	Country             string `json:"country"`
	Continent           string `json:"continent"`
	RegionCode          string `json:"region_code"`
	CountryCode         string `json:"country_code"`
	ContinentCode       string `json:"continent_code"`
	Latitude            string `json:"latitude"`
	Longitude           string `json:"longitude"`
	TimeZone            string `json:"time_zone"`
	LocaleCode          string `json:"locale_code"`
	MetroCode           string `json:"metro_code"`
	IsInEuropeanUnion   bool   `json:"is_in_european_union"`
}

// ASNInfo describes the autonomous system behind an IP.
type ASNInfo struct {
	Network                      string `json:"network"`
	AutonomousSystemNumber       string `json:"autonomous_system_number"`
	AutonomousSystemOrganization string `json:"autonomous_system_organization"`
}

// Security flags anonymizing infrastructure.
type Security struct {
	VPN   bool `json:"vpn"`
	Proxy bool `json:"proxy"`
	Tor   bool `json:"tor"`
	Relay bool `json:"relay"`
}

// Captures holds media URLs bound to an entry after upload.
type Captures struct {
	Image string `json:"image,omitempty"`
	Audio string `json:"audio,omitempty"`
}

// Location is a client-reported GPS fix.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Heading   float64 `json:"heading,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// Contact is one harvested address-book record.
type Contact struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name,omitempty"`
	PhoneNumbers []string `json:"phoneNumbers,omitempty"`
	Emails       []string `json:"emails,omitempty"`
	Addresses    []string `json:"addresses,omitempty"`
}
