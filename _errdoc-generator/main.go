// Copyright 2025 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
)

func main() {
	var outpath string
	flag.StringVar(&outpath, "output", "", "Specify the error documentation output file path")
	flag.Parse()
	if outpath == "" {
		println("Usage: ./_errdoc-generator --output /path/to/errors.toml")
		os.Exit(1)
	}

	// Read-in the exists file and merge the description/workaround from exists file
	existDefinition := map[string]spec{}
	if file, err := os.ReadFile(outpath); err == nil {
		err = toml.Unmarshal(file, &existDefinition)
		if err != nil {
			println(fmt.Sprintf("Invalid toml file %s when merging exists description/workaround: %v", outpath, err))
			os.Exit(1)
		}
	}

	var allErrors []error
	allErrors = append(allErrors, cerrors.ErrInboxFull)
	allErrors = append(allErrors, cerrors.ErrInboxDisconnected)
	allErrors = append(allErrors, cerrors.ErrInboxCapacity)
	allErrors = append(allErrors, cerrors.ErrConsumerConnected)
	allErrors = append(allErrors, cerrors.ErrSystemStopped)
	allErrors = append(allErrors, cerrors.ErrSystemState)
	allErrors = append(allErrors, cerrors.ErrActorPanic)
	allErrors = append(allErrors, cerrors.ErrActorFailurePropagated)
	allErrors = append(allErrors, cerrors.ErrInvalidSystemOption)
	allErrors = append(allErrors, cerrors.ErrReactorClosed)
	allErrors = append(allErrors, cerrors.ErrWatchNotSupported)

	var dedup = map[string]spec{}
	for _, e := range allErrors {
		terr, ok := e.(*errors.Error)
		if !ok {
			println("Non-normalized error:", e.Error())
			continue
		}
		val := reflect.ValueOf(terr).Elem()
		codeText := val.FieldByName("codeText")
		message := val.FieldByName("message")
		if _, found := dedup[codeText.String()]; found {
			println("Duplicated error code:", codeText.String())
			continue
		}
		s := spec{
			Code:  codeText.String(),
			Error: message.String(),
		}
		if exist, found := existDefinition[s.Code]; found {
			s.Description = strings.TrimSpace(exist.Description)
			s.Workaround = strings.TrimSpace(exist.Workaround)
		}
		dedup[codeText.String()] = s
	}

	var sorted []spec
	for _, item := range dedup {
		sorted = append(sorted, item)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Code < sorted[j].Code
	})

	// We don't use toml library to serialize it due to cannot reserve the order for map[string]spec
	buffer := bytes.NewBufferString("# AUTOGENERATED BY github.com/pingcap/errors/errdoc-gen\n" +
		"# YOU CAN CHANGE THE 'description'/'workaround' FIELDS IF THEM ARE IMPROPER.\n\n")
	for _, item := range sorted {
		buffer.WriteString(fmt.Sprintf("[\"%s\"]\nerror = '''\n%s\n'''\n", item.Code, item.Error))
		if item.Description != "" {
			buffer.WriteString(fmt.Sprintf("description = '''\n%s\n'''\n", item.Description))
		}
		if item.Workaround != "" {
			buffer.WriteString(fmt.Sprintf("workaround = '''\n%s\n'''\n", item.Workaround))
		}
		buffer.WriteString("\n")
	}
	if err := os.WriteFile(outpath, buffer.Bytes(), os.ModePerm); err != nil {
		panic(err)
	}
}

type spec struct {
	Code        string
	Error       string `toml:"error"`
	Description string `toml:"description"`
	Workaround  string `toml:"workaround"`
}
