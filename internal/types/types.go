// Package types provides shared type definitions for the application.
package types

// AppStatus is a point-in-time view of one routed application.
type AppStatus struct {
	PID            int         `json:"pid"`
	Name           string      `json:"name"`
	PersistKey     string      `json:"persist_key"`
	DeviceUID      string      `json:"device_uid"`
	Volume         float32     `json:"volume"`
	Muted          bool        `json:"muted"`
	EQEnabled      bool        `json:"eq_enabled"`
	EQGains        [10]float64 `json:"eq_gains"`
	FollowsDefault bool        `json:"follows_default"`
	Paused         bool        `json:"paused"`
	Switching      bool        `json:"switching"`
	Level          float32     `json:"level"`
}

// DeviceInfo describes an output device for the UI.
type DeviceInfo struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Default   bool   `json:"default"`
}

// EngineStatus is the engine-wide view.
type EngineStatus struct {
	Running             bool   `json:"running"`
	PermissionConfirmed bool   `json:"permission_confirmed"`
	DefaultDeviceUID    string `json:"default_device_uid"`
	TappedApps          int    `json:"tapped_apps"`
}
