package remote

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

//go:embed empty.vim
var emptyScript []byte

var (
	emptyOnce sync.Once
	emptyPath string
	emptyErr  error
)

// EmptyScript returns the path of an empty Vim script, written once per
// process. It is the default vimrc and gvimrc so spawned servers ignore the
// user's configuration.
func EmptyScript() (string, error) {
	emptyOnce.Do(func() {
		dir, err := os.MkdirTemp("", "vimpilot-")
		if err != nil {
			emptyErr = fmt.Errorf("creating script dir: %w", err)
			return
		}
		path := filepath.Join(dir, "empty.vim")
		if err := os.WriteFile(path, emptyScript, 0o600); err != nil {
			emptyErr = fmt.Errorf("writing empty script: %w", err)
			return
		}
		emptyPath = path
	})
	return emptyPath, emptyErr
}
