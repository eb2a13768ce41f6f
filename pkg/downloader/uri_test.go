package downloader_test

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/pocketlm/pocketlm/pkg/downloader"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Download Test", func() {
	Context("URI", func() {
		It("parses github with a branch", func() {
			uri := URI("github:pocketlm/registry/index.yaml@main")
			Expect(uri.ResolveURL()).To(Equal("https://raw.githubusercontent.com/pocketlm/registry/main/index.yaml"))
		})
		It("parses github without a branch", func() {
			uri := URI("github:pocketlm/registry/index.yaml")
			Expect(uri.ResolveURL()).To(Equal("https://raw.githubusercontent.com/pocketlm/registry/main/index.yaml"))
		})
		It("parses github with urls", func() {
			uri := URI("github://pocketlm/registry/index.yaml@v1.0")
			Expect(uri.ResolveURL()).To(Equal("https://raw.githubusercontent.com/pocketlm/registry/v1.0/index.yaml"))
		})
		It("parses huggingface URIs", func() {
			uri := URI("huggingface://TheBloke/Mixtral-8x7B-v0.1-GGUF/mixtral-8x7b-v0.1.Q2_K.gguf")
			Expect(uri.ResolveURL()).To(Equal("https://huggingface.co/TheBloke/Mixtral-8x7B-v0.1-GGUF/resolve/main/mixtral-8x7b-v0.1.Q2_K.gguf"))
		})
		It("leaves plain https URLs alone", func() {
			uri := URI("https://example.com/model.gguf")
			Expect(uri.ResolveURL()).To(Equal("https://example.com/model.gguf"))
		})
		It("recognizes URLs", func() {
			Expect(URI("https://example.com/a").LooksLikeURL()).To(BeTrue())
			Expect(URI("huggingface://a/b/c").LooksLikeURL()).To(BeTrue())
			Expect(URI("/var/lib/models/a.gguf").LooksLikeURL()).To(BeFalse())
		})
		It("extracts the filename", func() {
			f, err := URI("https://example.com/path/model.gguf@main").FilenameFromUrl()
			Expect(err).ToNot(HaveOccurred())
			Expect(f).To(Equal("model.gguf"))
		})
	})

	Context("DownloadFile", func() {
		var (
			tempdir string
			server  *httptest.Server
		)

		BeforeEach(func() {
			var err error
			tempdir, err = os.MkdirTemp("", "downloader")
			Expect(err).ToNot(HaveOccurred())
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/model.bin":
					fmt.Fprint(w, "weights")
				default:
					http.NotFound(w, r)
				}
			}))
		})

		AfterEach(func() {
			server.Close()
			os.RemoveAll(tempdir)
		})

		It("downloads and verifies a file", func() {
			sha := fmt.Sprintf("%x", sha256.Sum256([]byte("weights")))
			dest := filepath.Join(tempdir, "model.bin")

			var sawProgress bool
			err := URI(server.URL+"/model.bin").DownloadFile(dest, sha, func(fileName, current, total string, percentage float64) {
				sawProgress = true
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(sawProgress).To(BeTrue())

			data, err := os.ReadFile(dest)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(Equal("weights"))

			_, err = os.Stat(dest + ".partial")
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("fails on a SHA mismatch", func() {
			dest := filepath.Join(tempdir, "model.bin")
			err := URI(server.URL+"/model.bin").DownloadFile(dest, "deadbeef", nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("SHA mismatch"))
		})

		It("fails on missing remote files", func() {
			dest := filepath.Join(tempdir, "missing.bin")
			err := URI(server.URL+"/missing.bin").DownloadFile(dest, "", nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("invalid status code 404"))
		})

		It("reads local files through the callback", func() {
			src := filepath.Join(tempdir, "index.yaml")
			Expect(os.WriteFile(src, []byte("hello"), 0644)).To(Succeed())

			var got []byte
			err := URI("file://"+src).DownloadWithCallback(func(url string, body []byte) error {
				got = body
				return nil
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(string(got)).To(Equal("hello"))
		})
	})
})
