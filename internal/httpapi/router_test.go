package httpapi_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/extract"
)

func pdf(tag string) []byte {
	return []byte("%PDF-1.7\n% " + tag + "\n")
}

var _ = Describe("Router", func() {
	var (
		e     *env
		owner string
	)

	BeforeEach(func() {
		e = newEnv(1 << 20)
		owner = uuid.NewString()
	})

	statusOf := func(id string) string {
		code, body := e.getJSON("/api/v1/documents/" + id)
		Expect(code).To(Equal(http.StatusOK))
		return body["status"].(string)
	}

	It("reports health", func() {
		code, body := e.getJSON("/healthz")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body["status"]).To(Equal("ok"))
		Expect(body["engine"]).To(Equal(constants.EngineFake))
	})

	It("accepts an upload and serves status, log, invoice and export", func() {
		w := e.upload(owner, "fv.pdf", pdf("one"))
		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(w.Header().Get("X-Request-ID")).NotTo(BeEmpty())
		var rec map[string]any
		Expect(jsonBody(w, &rec)).To(Succeed())
		id := rec["document_id"].(string)

		Eventually(func() string { return statusOf(id) }).WithTimeout(5 * time.Second).Should(Equal(string(constants.StatusMaterialized)))

		_, st := e.getJSON("/api/v1/documents/" + id)
		Expect(st["requires_manual_verification"]).To(BeFalse())
		Expect(st["confidence"]).To(BeNumerically(">=", 90))

		code, log := e.getJSON("/api/v1/documents/" + id + "/log")
		Expect(code).To(Equal(http.StatusOK))
		entries := log["entries"].([]any)
		Expect(entries[0].(map[string]any)["to_status"]).To(Equal(string(constants.StatusUploaded)))

		code, inv := e.getJSON("/api/v1/documents/" + id + "/invoice")
		Expect(code).To(Equal(http.StatusOK))
		Expect(inv["document_id"]).To(Equal(id))

		xw := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/invoices/export?owner_id="+owner, nil))
		Expect(xw.Code).To(Equal(http.StatusOK))
		Expect(xw.Header().Get("Content-Disposition")).To(ContainSubstring(".xlsx"))
		f, err := excelize.OpenReader(bytes.NewReader(xw.Body.Bytes()))
		Expect(err).NotTo(HaveOccurred())
		rows, err := f.GetRows("Invoices")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(2))

		again := e.upload(owner, "fv-copy.pdf", pdf("one"))
		Expect(again.Code).To(Equal(http.StatusOK))
		Expect(jsonBody(again, &rec)).To(Succeed())
		Expect(rec["deduplicated"]).To(BeTrue())
		Expect(rec["document_id"]).To(Equal(id))
	})

	It("runs a review round trip", func() {
		content := pdf("weak")
		out := extract.FakeInvoiceOutput(99)
		out.Fields[constants.FieldSellerTaxID] = entity.Candidate{Value: "526-025-02-75", Confidence: 99}
		e.fake.ForContent(content, extract.Script{Output: out})

		var rec map[string]any
		Expect(jsonBody(e.upload(owner, "fv.pdf", content), &rec)).To(Succeed())
		id := rec["document_id"].(string)
		Eventually(func() string { return statusOf(id) }).WithTimeout(5 * time.Second).Should(Equal(string(constants.StatusReviewRequired)))

		_, list := e.getJSON("/api/v1/reviews")
		tickets := list["tickets"].([]any)
		Expect(tickets).To(HaveLen(1))
		ticket := tickets[0].(map[string]any)["id"].(string)

		code, detail := e.getJSON("/api/v1/reviews/" + ticket)
		Expect(code).To(Equal(http.StatusOK))
		Expect(detail["document"].(map[string]any)["id"]).To(Equal(id))

		code, res := e.postJSON("/api/v1/reviews/"+ticket+"/corrections", map[string]any{
			"reviewer": "anna",
			"fields":   map[string]string{constants.FieldSellerTaxID: "526-025-02-74"},
		})
		Expect(code).To(Equal(http.StatusOK))
		Expect(res["status"]).To(Equal(string(constants.StatusMaterialized)))

		code, _ = e.postJSON("/api/v1/reviews/"+ticket+"/corrections", map[string]any{
			"reviewer": "anna",
			"fields":   map[string]string{constants.FieldSellerTaxID: "526-025-02-74"},
		})
		Expect(code).To(Equal(http.StatusConflict))
	})

	It("cancels and requeues", func() {
		content := pdf("slow")
		e.fake.ForContent(content,
			extract.Script{Output: extract.FakeInvoiceOutput(96), Delay: 5 * time.Second},
			extract.Script{Output: extract.FakeInvoiceOutput(96)},
		)
		var rec map[string]any
		Expect(jsonBody(e.upload(owner, "fv.pdf", content), &rec)).To(Succeed())
		id := rec["document_id"].(string)
		Eventually(func() string { return statusOf(id) }).Should(Equal(string(constants.StatusExtracting)))

		code, _ := e.postJSON("/api/v1/documents/"+id+"/cancel", map[string]string{"owner_id": uuid.NewString()})
		Expect(code).To(Equal(http.StatusNotFound))

		code, _ = e.postJSON("/api/v1/documents/"+id+"/cancel", map[string]string{"owner_id": owner})
		Expect(code).To(Equal(http.StatusOK))
		Eventually(func() string { return statusOf(id) }).WithTimeout(3 * time.Second).Should(Equal(string(constants.StatusCancelled)))

		code, _ = e.postJSON("/api/v1/documents/"+id+"/requeue", nil)
		Expect(code).To(Equal(http.StatusAccepted))
		Eventually(func() string { return statusOf(id) }).WithTimeout(5 * time.Second).Should(Equal(string(constants.StatusMaterialized)))
	})

	DescribeTable("rejects bad requests",
		func(method, path string, want int) {
			w := e.do(httptest.NewRequest(method, path, nil))
			Expect(w.Code).To(Equal(want))
		},
		Entry("malformed id", http.MethodGet, "/api/v1/documents/nope", http.StatusBadRequest),
		Entry("unknown document", http.MethodGet, "/api/v1/documents/"+uuid.NewString(), http.StatusNotFound),
		Entry("no invoice", http.MethodGet, "/api/v1/documents/"+uuid.NewString()+"/invoice", http.StatusNotFound),
		Entry("bad ticket status", http.MethodGet, "/api/v1/reviews?status=pending", http.StatusBadRequest),
		Entry("export without owner", http.MethodGet, "/api/v1/invoices/export", http.StatusBadRequest),
		Entry("export bad date", http.MethodGet, "/api/v1/invoices/export?owner_id="+uuid.NewString()+"&from=2025/01/01", http.StatusBadRequest),
		Entry("upload without form", http.MethodPost, "/api/v1/documents", http.StatusBadRequest),
	)

	It("rejects an executable upload", func() {
		w := e.upload(owner, "setup.exe", []byte("MZ\x90\x00\x03"))
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects an oversized body", func() {
		small := newEnv(1 << 10)
		w := small.upload(owner, "big.pdf", append(pdf("big"), bytes.Repeat([]byte{'x'}, 200<<10)...))
		Expect(w.Code).To(Equal(http.StatusRequestEntityTooLarge))
	})
})
