package domain

// DeploymentGraph is the complete resource description handed to the
// provisioning engine as one unit.
type DeploymentGraph struct {
	Region   string
	Storage  SharedStorageRef
	Topology ComputeTopology
	Identity NetworkIdentity
}

// AssembleGraph composes the resolved parts into one graph.
func AssembleGraph(topology ComputeTopology, identity NetworkIdentity, storage SharedStorageRef) DeploymentGraph {
	return DeploymentGraph{
		Region:   topology.Network().Region,
		Storage:  storage,
		Topology: topology,
		Identity: identity,
	}
}

