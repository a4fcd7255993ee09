package update

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Naming modes for OutputPath.
const (
	NamingDefault = "default"
	NamingVersion = "version"
	NamingDate    = "date"
)

// OutputPath picks where a downloaded release is saved inside saveDir.
func OutputPath(saveDir, programID, version, naming string, now time.Time) string {
	base := programID
	if base == "" {
		base = "app"
	}

	var name string
	switch naming {
	case NamingVersion:
		name = fmt.Sprintf("%s-v%s.zip", base, strings.TrimPrefix(version, "v"))
	case NamingDate:
		name = fmt.Sprintf("%s-%s.zip", base, now.Format("2006-01-02"))
	default:
		name = base + ".zip"
	}

	return filepath.Join(saveDir, name)
}
