// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package sseproto holds the wire types of the qlik.sse.Connector service
// (ServerSideExtension.proto) together with a gRPC codec and service
// descriptor for them.
//
// The messages are encoded directly with protowire instead of going through
// generated descriptors. Only the messages the plugin exchanges are modelled;
// unknown fields are skipped on decode so newer engines stay compatible.
package sseproto
