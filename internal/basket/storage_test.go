package basket

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename  string
			data      []byte
			savedPath string
			err       error
		)

		BeforeEach(func() {
			filename = "snapshot.jpg"
			data = []byte("frame bytes")
		})

		JustBeforeEach(func() {
			savedPath, err = storage.Save(filename, data)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the correct path", func() {
				Expect(savedPath).To(Equal(filename))
			})

			It("should save the file to disk", func() {
				filePath := filepath.Join(tmpDir, filename)
				Expect(filePath).To(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		When("the snapshot exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("snapshot.jpg", []byte("frame bytes"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns the saved data", func() {
				data, err := storage.Get("snapshot.jpg")
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte("frame bytes")))
			})
		})

		When("the snapshot does not exist", func() {
			It("returns an error", func() {
				_, err := storage.Get("missing.jpg")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Delete", func() {
		When("the snapshot exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("snapshot.jpg", []byte("frame bytes"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("removes the file", func() {
				Expect(storage.Delete("snapshot.jpg")).To(Succeed())
				Expect(filepath.Join(tmpDir, "snapshot.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("the snapshot does not exist", func() {
			It("returns an error", func() {
				Expect(storage.Delete("missing.jpg")).To(HaveOccurred())
			})
		})
	})
})
