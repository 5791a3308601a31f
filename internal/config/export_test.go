// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package config

var BootstrapAt = bootstrapAt
