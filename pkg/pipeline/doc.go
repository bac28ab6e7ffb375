// Package pipeline runs one subject through a harvest:
//
//	ResumeLoading? -> Discovering -> Downloading -> Checkpointing -> Done
//
// A fresh run harvests every query in order. A resume run loads a snapshot,
// re-fetches at most FetchLimit of its fetch failures, and retries the media
// refs that were still failing. Every outcome lands in one of the typed
// buckets of models.Buckets; a snapshot is written only when something is
// left to resume.
//
//	orch := pipeline.New(pipeline.Deps{...}, pipeline.DefaultOptions())
//	sum, err := orch.Run(ctx, pipeline.RunSpec{
//	    Platform: instagram.Name,
//	    Subject:  "Jane Doe",
//	    Queries:  []harvest.Query{{Account: "janedoe"}},
//	})
package pipeline
