package sandbox

// Well-known AppContainer capability SIDs.
const (
	CapabilityInternetClient             = "S-1-15-3-1"
	CapabilityInternetClientServer       = "S-1-15-3-2"
	CapabilityPrivateNetworkClientServer = "S-1-15-3-3"
	CapabilityReadInstallDirectory       = "S-1-15-3-8"
	CapabilityWriteInstallDirectory      = "S-1-15-3-9"
)

// AppContainerCapabilities derives the capability SIDs an AppContainer needs to honor the constraints.
// With no network and read-only filesystem access the container gets no capabilities at all.
func AppContainerCapabilities(c Constraints) []string {
	var sids []string

	if c.Network {
		sids = append(sids, CapabilityInternetClient, CapabilityPrivateNetworkClientServer)
	}

	switch c.Filesystem.Mode {
	case FilesystemFull, FilesystemPaths:
		sids = append(sids, CapabilityReadInstallDirectory, CapabilityWriteInstallDirectory)
	case FilesystemReadOnly:
		sids = append(sids, CapabilityReadInstallDirectory)
	}

	return sids
}
