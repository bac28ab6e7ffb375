// Package checkpoint persists the bucketed outcome of a pass so an
// interrupted or partially failed harvest can be resumed.
//
// Each pass that leaves work behind writes a new, timestamped snapshot;
// older snapshots are kept as an audit trail and never modified. Snapshots
// live in a gocloud.dev blob bucket, by default the per-user data directory:
//   - Linux: $XDG_DATA_HOME/snsgrab or ~/.local/share/snsgrab
//   - macOS: ~/Library/Application Support/snsgrab
//   - Windows: %APPDATA%/snsgrab
//
// Keys follow <platform>/<subject>/<subject>_<YYYYMMDDHHMMSS>.json. Loading is
// strict: unknown fields, unknown versions and buckets that break the
// classification rules are rejected.
package checkpoint
