package topology

import "errors"

var (
	errInvalidRootIdentity = errors.New("topology: root identity fails local validation")
	errInvalidRootLocator  = errors.New("topology: root locator signature does not verify")
)
