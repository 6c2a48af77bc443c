package models

// Setting keys.
const (
	SettingLastSync    = "lastSync"
	SettingDeviceID    = "deviceId"
	SettingOfflineMode = "offlineMode"
)

// Setting is one key/value row of the settings table.
type Setting struct {
	Key   string `db:"key" json:"key"`
	Value string `db:"value" json:"value"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}
