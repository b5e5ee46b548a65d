// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package parser turns the text printed by the management agent on the
// control node into typed per-host records.
//
// Four outputs are understood:
//
//	mco ping                      -> ParseLiveness
//	mco shell run "<release>"     -> ParseReleaseInfo
//	mco shell run "<rpm || dpkg>" -> ParseInstalled
//	mco rpc package checkupdates  -> ParseUpdates
//
// The multi-host outputs are read with a small block scanner (see blocks.go).
// Any structural inconsistency yields an error classified as a parse failure;
// the parsers never return partial data.
package parser
