// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"time"

	"github.com/coredb/mongocore/x/bsonx/bsoncore"
	"github.com/coredb/mongocore/x/mongo/driver/address"
	"github.com/coredb/mongocore/x/mongo/driver/auth"
	"github.com/coredb/mongocore/x/mongo/driver/description"
	"github.com/coredb/mongocore/x/mongo/driver/wiremessage"
)

// ClientMetadata is the {driver, os, platform} triple every hello carries,
// spec.md §6's handshake command shape.
type ClientMetadata struct {
	AppName        string
	DriverName     string
	DriverVersion  string
	OSType         string
	OSName         string
	OSArchitecture string
	Platform       string
}

// document builds the {application, driver, os, platform} client metadata
// document as its own standalone BSON value.
func (m ClientMetadata) document() bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)

	if m.AppName != "" {
		aidx, adst := bsoncore.AppendDocumentStart(nil)
		adst = bsoncore.AppendStringElement(adst, "name", m.AppName)
		adst, _ = bsoncore.AppendDocumentEnd(adst, aidx)
		dst = bsoncore.AppendDocumentElement(dst, "application", adst)
	}

	didx, ddst := bsoncore.AppendDocumentStart(nil)
	ddst = bsoncore.AppendStringElement(ddst, "name", m.DriverName)
	ddst = bsoncore.AppendStringElement(ddst, "version", m.DriverVersion)
	ddst, _ = bsoncore.AppendDocumentEnd(ddst, didx)
	dst = bsoncore.AppendDocumentElement(dst, "driver", ddst)

	oidx, odst := bsoncore.AppendDocumentStart(nil)
	odst = bsoncore.AppendStringElement(odst, "type", m.OSType)
	odst = bsoncore.AppendStringElement(odst, "name", m.OSName)
	odst = bsoncore.AppendStringElement(odst, "architecture", m.OSArchitecture)
	odst, _ = bsoncore.AppendDocumentEnd(odst, oidx)
	dst = bsoncore.AppendDocumentElement(dst, "os", odst)

	dst = bsoncore.AppendStringElement(dst, "platform", m.Platform)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

// HandshakeConfig configures Handshake.
type HandshakeConfig struct {
	Metadata           ClientMetadata
	Compressors        []wiremessage.Compressor
	LoadBalanced       bool
	Authenticator      auth.Authenticator
	Cred               *auth.Cred
	PreviousTopologyVersion *description.TopologyVersion
	SupportsStreaming  bool
}

// Handshake runs a hello command over conn, returning the resulting server
// description. When cfg.SupportsStreaming and a previous topology version
// are given, it sends an awaitable hello with maxAwaitTimeMS, the monitor's
// streaming mode (spec.md §4.F step 1).
func Handshake(ctx context.Context, conn *Connection, cfg HandshakeConfig, awaitTimeout time.Duration) (description.Server, error) {
	cmd := buildHelloCommand(cfg, awaitTimeout)

	reply, err := conn.RoundTrip(ctx, "admin", "hello", cmd, false)
	if err != nil {
		return description.Server{}, err
	}

	desc := parseHelloReply(conn.Addr, reply)
	if desc.ServiceID != nil {
		sid := desc.ServiceID.Hex()
		conn.ServiceID = &sid
	}

	if cfg.Authenticator != nil {
		if err := cfg.Authenticator.Auth(ctx, &auth.HandshakeInfo{
			Address:            conn.Addr.String(),
			SaslSupportedMechs: desc.SaslSupportedMechs,
		}, conn); err != nil {
			return description.Server{}, err
		}
	}

	for _, name := range desc.Compression {
		for _, c := range cfg.Compressors {
			if c.Name() == name {
				conn.SetCompressor(c)
				break
			}
		}
	}

	return desc, nil
}

func buildHelloCommand(cfg HandshakeConfig, awaitTimeout time.Duration) bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	cmdName := "hello"
	dst = bsoncore.AppendInt32Element(dst, cmdName, 1)
	dst = bsoncore.AppendDocumentElement(dst, "client", cfg.Metadata.document())

	if len(cfg.Compressors) > 0 {
		aidx, adst := bsoncore.AppendArrayElementStart(dst, "compression")
		for i, c := range cfg.Compressors {
			adst = bsoncore.AppendStringElement(adst, itoa(i), c.Name())
		}
		dst, _ = bsoncore.AppendArrayEnd(adst, aidx)
	}

	if cfg.LoadBalanced {
		dst = bsoncore.AppendBooleanElement(dst, "loadBalanced", true)
	}
	if cfg.PreviousTopologyVersion != nil && cfg.SupportsStreaming {
		tvidx, tvdst := bsoncore.AppendDocumentStart(nil)
		tvdst = bsoncore.AppendStringElement(tvdst, "processId", cfg.PreviousTopologyVersion.ProcessID)
		tvdst = bsoncore.AppendInt64Element(tvdst, "counter", cfg.PreviousTopologyVersion.Counter)
		tvdst, _ = bsoncore.AppendDocumentEnd(tvdst, tvidx)
		dst = bsoncore.AppendDocumentElement(dst, "topologyVersion", tvdst)
		dst = bsoncore.AppendInt64Element(dst, "maxAwaitTimeMS", int64(awaitTimeout/time.Millisecond))
	}

	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

func parseHelloReply(addr address.Address, reply bsoncore.Document) description.Server {
	desc := description.Server{
		Addr:           addr,
		LastUpdateTime: time.Now(),
		Kind:           description.Standalone,
	}

	if v, ok := reply.Lookup("ismaster").BooleanOK(); ok && v {
		desc.Kind = description.RSPrimary
	}
	if v, ok := reply.Lookup("isWritablePrimary").BooleanOK(); ok && v {
		desc.Kind = description.RSPrimary
	}
	if v, ok := reply.Lookup("secondary").BooleanOK(); ok && v {
		desc.Kind = description.RSSecondary
	}
	if v, ok := reply.Lookup("arbiterOnly").BooleanOK(); ok && v {
		desc.Kind = description.RSArbiter
	}
	if v, ok := reply.Lookup("msg").StringValueOK(); ok && v == "isdbgrid" {
		desc.Kind = description.Mongos
	}
	if setName, ok := reply.Lookup("setName").StringValueOK(); ok {
		desc.SetName = setName
		if desc.Kind == description.Standalone {
			desc.Kind = description.RSOther
		}
	}
	if v, ok := reply.Lookup("setVersion").AsInt64OK(); ok {
		desc.SetVersion = uint32(v)
	}
	if v, ok := reply.Lookup("me").StringValueOK(); ok {
		desc.CanonicalAddr = address.Address(v)
	}
	if v, ok := reply.Lookup("maxWireVersion").AsInt64OK(); ok {
		min, _ := reply.Lookup("minWireVersion").AsInt64OK()
		wv := description.NewVersionRange(int32(min), int32(v))
		desc.WireVersion = &wv
	}
	if v, ok := reply.Lookup("maxBsonObjectSize").AsInt64OK(); ok {
		desc.MaxDocumentSize = uint32(v)
	}
	if v, ok := reply.Lookup("maxMessageSizeBytes").AsInt64OK(); ok {
		desc.MaxMessageSize = uint32(v)
	}
	if v, ok := reply.Lookup("maxWriteBatchSize").AsInt64OK(); ok {
		desc.MaxBatchCount = uint32(v)
	}
	if v, ok := reply.Lookup("logicalSessionTimeoutMinutes").AsInt64OK(); ok {
		desc.SessionTimeoutMinutes = v
	}
	if hosts, ok := reply.Lookup("hosts").ArrayOK(); ok {
		desc.Members = append(desc.Members, readAddressArray(hosts)...)
	}
	if passives, ok := reply.Lookup("passives").ArrayOK(); ok {
		desc.Members = append(desc.Members, readAddressArray(passives)...)
	}
	if arbiters, ok := reply.Lookup("arbiters").ArrayOK(); ok {
		desc.Members = append(desc.Members, readAddressArray(arbiters)...)
	}
	if compressions, ok := reply.Lookup("compression").ArrayOK(); ok {
		vals, _ := compressions.Values()
		for _, v := range vals {
			if s, ok := v.StringValueOK(); ok {
				desc.Compression = append(desc.Compression, s)
			}
		}
	}
	if mechs, ok := reply.Lookup("saslSupportedMechs").ArrayOK(); ok {
		vals, _ := mechs.Values()
		for _, v := range vals {
			if s, ok := v.StringValueOK(); ok {
				desc.SaslSupportedMechs = append(desc.SaslSupportedMechs, s)
			}
		}
	}
	if tv, ok := reply.Lookup("topologyVersion").DocumentOK(); ok {
		pid, _ := tv.Lookup("processId").ObjectIDOK()
		counter, _ := tv.Lookup("counter").AsInt64OK()
		desc.TopologyVersion = &description.TopologyVersion{ProcessID: pid.Hex(), Counter: counter}
	}
	if sid, ok := reply.Lookup("serviceId").ObjectIDOK(); ok {
		desc.ServiceID = &sid
	}

	return desc
}

func readAddressArray(arr bsoncore.Document) []address.Address {
	vals, _ := arr.Values()
	out := make([]address.Address, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.StringValueOK(); ok {
			out = append(out, address.Address(s))
		}
	}
	return out
}
