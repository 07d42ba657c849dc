// Package staging inspects and sweeps the shared directory where downloaded
// sources and encoder job directories live between stages.
//
// A job directory normally disappears once the uploader has copied it to the
// blob store. Directories left behind by failed or dropped messages stay until
// CleanStale removes them; a directory whose encoder lock is still held is
// never touched.
package staging
