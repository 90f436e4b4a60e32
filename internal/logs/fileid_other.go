//go:build !unix

package logs

import "os"

type fileID struct{}

func identify(os.FileInfo) fileID { return fileID{} }
