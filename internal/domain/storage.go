package domain

// NFSPort is the default port of the shared file system protocol.
const NFSPort = 2049

// PendingFileSystemID stands in for the id of a file system that does not
// exist yet. The provisioning program replaces it with the created id.
const PendingFileSystemID = "@@FILE_SYSTEM_ID@@"

// StorageDeclaration describes a shared file system this deployment owns.
type StorageDeclaration struct {
	// TransitionToIA is the lifecycle rule moving cold files to the
	// infrequent-access tier.
	TransitionToIA string
	// Retain keeps the file system when the deployment is removed.
	Retain      bool
	AccessPoint bool
	Encrypted   bool
}

// StorageIngress is the NFS ingress grant attached to the file system's
// security boundary.
type StorageIngress struct {
	Policy StorageIngressPolicy
	Port   int
}

// SharedStorageRef is the shared file system a deployment mounts.
//
// Owned=false means the file system is imported and never destroyed by this
// system; Declaration is nil. Owned=true means it is declared by this
// deployment and ID holds [PendingFileSystemID].
type SharedStorageRef struct {
	ID                 string
	SecurityBoundaryID string
	Owned              bool
	Declaration        *StorageDeclaration
	Ingress            StorageIngress
}

// ResolveSharedStorage decides whether the deployment imports an existing
// file system or declares a new one.
func ResolveSharedStorage(cfg DeploymentConfig) SharedStorageRef {
	ingress := StorageIngress{Policy: cfg.StorageIngress, Port: NFSPort}
	if ingress.Policy == "" {
		ingress.Policy = StorageIngressNetwork
	}

	if cfg.SharedStorage != nil {
		return SharedStorageRef{
			ID:                 cfg.SharedStorage.FileSystemID,
			SecurityBoundaryID: cfg.SharedStorage.SecurityGroupID,
			Owned:              false,
			Ingress:            ingress,
		}
	}

	return SharedStorageRef{
		ID:    PendingFileSystemID,
		Owned: true,
		Declaration: &StorageDeclaration{
			TransitionToIA: "AFTER_7_DAYS",
			Retain:         cfg.RetainStorageOnTeardown,
			AccessPoint:    true,
			Encrypted:      true,
		},
		Ingress: ingress,
	}
}
