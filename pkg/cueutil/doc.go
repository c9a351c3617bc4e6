// SPDX-License-Identifier: MPL-2.0

// Package cueutil decodes CUE documents against an embedded schema.
//
// Both the module manifest (kaven.module.cue) and the user configuration
// file are validated the same way:
//
//  1. Compile the embedded schema and look up its root definition
//  2. Compile the user document and unify it with that definition
//  3. Validate and decode the unified value into a Go struct
//
// # Usage
//
//	//go:embed manifest_schema.cue
//	var manifestSchema []byte
//
//	res, err := cueutil.ParseAndDecode[Manifest](
//	    manifestSchema,
//	    data,
//	    "#Manifest",
//	    cueutil.WithFilename("kaven.module.cue"),
//	)
//	if err != nil {
//	    return nil, err
//	}
//	return res.Value, nil
package cueutil
