// Package archive unpacks source-distribution archives into an isolated,
// exclusively owned workspace.
//
// The format is detected from file content, never from the file name. Tar
// archives may be uncompressed or compressed with gzip, bzip2, xz or zstd;
// zip archives are read through their central directory, so archives with a
// leading stub are accepted too.
//
// Archives are untrusted input. Members that would land outside the workspace
// (absolute names, ".." components, links pointing elsewhere) abort the
// extraction, as does exceeding the configured byte budget. Extraction is
// all-or-nothing: on any error the partially populated workspace is removed
// before Extract returns.
//
// # Usage
//
//	ws, err := archive.Extract("requests-2.31.0.tar.gz")
//	if err != nil {
//	    return err
//	}
//	defer ws.Close() // restores the working directory and deletes ws.Root
//
// Or, scoped:
//
//	err := archive.With(path, func(ws *archive.Workspace) error {
//	    return inspect(ws.Root)
//	})
package archive
