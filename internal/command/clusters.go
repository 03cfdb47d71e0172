package command

// Cluster ids for the built-in clusters.
const (
	ClusterIdentify     uint32 = 0x0003
	ClusterOnOff        uint32 = 0x0006
	ClusterLevelControl uint32 = 0x0008
)

// Command ids, scoped by cluster.
const (
	CommandIdentify uint32 = 0x00

	CommandOff    uint32 = 0x00
	CommandOn     uint32 = 0x01
	CommandToggle uint32 = 0x02

	CommandMoveToLevel uint32 = 0x00
)

// Argument keys.
const (
	ArgLevel   = "level"
	ArgSeconds = "seconds"
)

func NewOnOff(endpointID uint16, commandID uint32) Command {
	return Command{ClusterID: ClusterOnOff, CommandID: commandID, EndpointID: endpointID}
}

func NewMoveToLevel(endpointID uint16, level uint8) Command {
	return Command{
		ClusterID:  ClusterLevelControl,
		CommandID:  CommandMoveToLevel,
		EndpointID: endpointID,
		Args:       map[string]any{ArgLevel: level},
	}
}

func NewIdentify(endpointID uint16, seconds uint16) Command {
	return Command{
		ClusterID:  ClusterIdentify,
		CommandID:  CommandIdentify,
		EndpointID: endpointID,
		Args:       map[string]any{ArgSeconds: seconds},
	}
}
