// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

// oidc-go provides a collection of related packages which enable a relying
// party to integrate with a Next Identity provider using the OIDC
// authorization code flow, including registration and profile-management
// redirects, session gating and logout.
//
// See README.md
package oidcgo
