package meta_test

import (
	"runtime"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/worldql/internal/meta"
)

var _ = Describe("meta", func() {
	It("reports the running platform", func() {
		info := meta.GetInfo()
		Expect(info.GoVersion).To(Equal(runtime.Version()))
		Expect(info.Platform).To(Equal(runtime.GOOS + " " + runtime.GOARCH))
	})

	It("builds a user agent for unversioned builds", func() {
		info := meta.Info{Platform: "linux amd64", GoVersion: "go1.16"}
		Expect(info.UserAgent()).To(Equal("worldql-go/dev (linux amd64; go1.16)"))
	})
})
