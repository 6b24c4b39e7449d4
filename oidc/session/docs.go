// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
session provides the authentication gate protected routes depend on.  The
gate reads and writes tokens through an injected Store (the package places
no constraint on the store's backing implementation) and exposes
IsAuthenticated, CurrentUser and a RequireAuthentication http middleware.
*/
package session
