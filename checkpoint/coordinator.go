// Package checkpoint resumes a pipeline from its last durable
// position at startup. Persisting new checkpoints during a run is
// builder.ProcessCheckpoint's job (spec.md §4.4): it is called
// synchronously after every LWN drain, so it always has the Parser's
// exact position and the transaction buffer's exact minimum probe to
// hand to metadata.SaveParserCheckpoint in one step. A separate
// ticker persisting from independently-recorded position fields would
// either duplicate that write or race it with stale inputs, so this
// package no longer owns one.
package checkpoint

import (
	"github.com/cdcstream/olr/metadata"
)

// Resume reads the writer checkpoint first (its scn becomes
// metadata.clientScn) and then the latest parser checkpoint at or
// before firstDataScn, per spec.md §4.9's startup resume rule.
func Resume(meta *metadata.Metadata) (metadata.WriterCheckpoint, metadata.ParserCheckpoint, bool, error) {
	wc, _, err := meta.LoadWriterCheckpoint()
	if err != nil {
		return metadata.WriterCheckpoint{}, metadata.ParserCheckpoint{}, false, err
	}

	_, _, firstDataScn := meta.Identity()
	pc, found := meta.LatestParserCheckpointAtOrBefore(firstDataScn)
	return wc, pc, found, nil
}
