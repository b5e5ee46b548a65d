// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the command-line interface of patchfleet using Cobra.
// It wires configuration and the store, and delegates all fleet work to the
// job layer so commands behave the same as API requests.
package cli
