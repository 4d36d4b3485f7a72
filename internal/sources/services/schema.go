package services

// ServiceFile is the on-disk shape of one service record (configs/<id>.yml).
// Keys are upper-case to stay compatible with existing config directories.
type ServiceFile struct {
	HostMAC      string   `yaml:"HOST_MAC"`
	HostIP       string   `yaml:"HOST_IP"`
	HostPort     int      `yaml:"HOST_PORT,omitempty"`
	AppURL       string   `yaml:"APP_URL"`
	BroadcastIP  string   `yaml:"BROADCAST_IP,omitempty"`
	IgnoredPaths []string `yaml:"IGNORED_PATHS,omitempty"`
}

// Record is a parsed file together with the path it came from.
type Record struct {
	Path string
	File ServiceFile
}
