// Package storage decides where harvested media lives on disk.
//
// Layout derives every path from the platform, the subject's real name, the
// media kind and the post timestamp, so a resumed run writes to exactly the
// same files as the run it continues. Present backs the verify-on-disk option:
// an item counts as downloaded only when each of its targets exists and is
// non-empty.
//
//	layout, err := storage.NewLayout(cfg.Output.BaseDirectory)
//	dest := layout.Path("twitter", "jane", item, item.Media[0])
//	// ./twitter/jane/image/2021/03/abc.jpg
package storage
