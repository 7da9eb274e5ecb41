// Copyright 2021-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package optimizer_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-optimal/optimizer"
)

var _ = Describe("Registry", func() {
	It("describes every objective", func() {
		descs, err := optimizer.Descriptors()
		Expect(err).To(BeNil())
		Expect(descs).To(HaveLen(6))
		Expect(descs[0].Shortcode).To(Equal("cara"))
		Expect(descs[0].Objective).To(Equal(optimizer.MaxCaraGaussianMixture))
		Expect(descs[0].Arguments).To(HaveKey("carra"))
	})

	DescribeTable("parses objectives",
		func(input string, expected optimizer.Objective) {
			obj, err := optimizer.ParseObjective(input)
			Expect(err).To(BeNil())
			Expect(obj).To(Equal(expected))
		},
		Entry("by name", "MinVariance", optimizer.MinVariance),
		Entry("ignoring case", "maxsharperatio", optimizer.MaxSharpeRatio),
		Entry("by shortcode", "erc", optimizer.EqualRiskContribution),
		Entry("by upper case shortcode", "MQU", optimizer.MaxQuadraticUtility),
	)

	It("rejects unknown objectives", func() {
		_, err := optimizer.ParseObjective("momentum")
		Expect(errors.Is(err, optimizer.ErrInvalidParameter)).To(BeTrue())

		_, err = optimizer.Lookup("momentum")
		Expect(errors.Is(err, optimizer.ErrUnknownShortcode)).To(BeTrue())
	})

	It("round trips objectives through text", func() {
		text, err := optimizer.MaxDiversification.MarshalText()
		Expect(err).To(BeNil())
		var obj optimizer.Objective
		Expect(obj.UnmarshalText(text)).To(Succeed())
		Expect(obj).To(Equal(optimizer.MaxDiversification))
		Expect(optimizer.MaxDiversification.ScaleInvariant()).To(BeTrue())
		Expect(optimizer.MinVariance.ScaleInvariant()).To(BeFalse())
	})
})
