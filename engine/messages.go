package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/fieldops/reportbot/report"
	"github.com/fieldops/reportbot/session"
)

// Reply-keyboard sentinels. Matching is exact, after TrimSpace.
const (
	btnCancel       = "❌ Batalkan"
	btnFinishUpload = "✅ Selesai Upload"
	btnSendReport   = "✅ Kirim Laporan"
	btnEditData     = "📝 Edit Data"
	btnUploadPhoto  = "📷 Upload Foto"
	btnDeletePhoto  = "🗑️ Hapus Foto"
	btnNewReport    = "📝 Buat Laporan Baru"
	btnSendPending  = "📤 Kirim Laporan ke Spreadsheet"
	btnModeSingle   = "📸 Upload Satu-Satu (Custom Nama)"
	btnModeAuto     = "📷 Upload Banyak (Auto Nama)"
	txtSkipLocation = "lewati"
)

const cbPhoto = "photo"
const cbDelPhoto = "delphoto"

func cancelRow() []string { return []string{btnCancel} }

func categoryKeyboard(categories []string) [][]string {
	rows := make([][]string, 0, len(categories)+1)
	for _, c := range categories {
		rows = append(rows, []string{c})
	}
	return append(rows, cancelRow())
}

func idleMenuKeyboard(hasPending bool) [][]string {
	rows := [][]string{{btnNewReport}}
	if hasPending {
		rows = append(rows, []string{btnSendPending})
	}
	return rows
}

func confirmKeyboard() [][]string {
	return [][]string{
		{btnSendReport},
		{btnEditData, btnUploadPhoto},
		{btnDeletePhoto},
		cancelRow(),
	}
}

func uploadModeKeyboard() [][]string {
	return [][]string{
		{btnModeSingle},
		{btnModeAuto},
		{btnFinishUpload},
		cancelRow(),
	}
}

func uploadKeyboard() [][]string {
	return [][]string{
		{btnFinishUpload},
		cancelRow(),
	}
}

func photoCategoryInline(categories []report.PhotoCategory) [][]InlineButton {
	rows := make([][]InlineButton, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, []InlineButton{{Text: c.Label, Key: cbPhoto, Data: c.Key}})
	}
	return rows
}

func deletePhotoInline(sess *session.Session, flow *report.Flow) [][]InlineButton {
	var rows [][]InlineButton
	for _, c := range flow.PhotoCategories {
		for i, att := range sess.Attachments[c.Key] {
			rows = append(rows, []InlineButton{{
				Text: fmt.Sprintf("🗑️ %s — %s", c.Label, att.FileName),
				Key:  cbDelPhoto,
				Data: fmt.Sprintf("%s|%d", c.Key, i),
			}})
		}
	}
	return rows
}

func greetingText(firstName string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "Teknisi"
	}
	return fmt.Sprintf("Halo %s! 👋\nSelamat datang di Bot Laporan Lapangan.\n\nSilakan pilih menu di bawah ini.", name)
}

func categoryPromptText() string {
	return "📋 *Laporan Baru*\n\nSilakan pilih jenis laporan:"
}

func idPromptText(category string) string {
	return fmt.Sprintf("Jenis laporan: *%s*\n\nMasukkan *ID Tiket / Order* laporan ini:", category)
}

func fieldPromptText(folderLink string, required []string) string {
	var b strings.Builder
	b.WriteString("✅ Folder laporan dibuat:\n")
	b.WriteString(folderLink)
	b.WriteString("\n\nSalin format di bawah, lengkapi semua baris, lalu kirim kembali dalam *satu pesan*:\n\n")
	b.WriteString(report.FieldTemplate(required, nil))
	return b.String()
}

func missingFieldsText(missing []string) string {
	var b strings.Builder
	b.WriteString("⚠️ Data belum lengkap. Field berikut masih kosong:\n\n")
	for _, m := range missing {
		b.WriteString("• ")
		b.WriteString(m)
		b.WriteString("\n")
	}
	b.WriteString("\nKirim ulang data dengan format yang sama.")
	return b.String()
}

func editPromptText(required []string, values map[string]string) string {
	return "📝 *Edit Data*\n\nPerbaiki data di bawah, lalu kirim kembali dalam satu pesan:\n\n" +
		report.FieldTemplate(required, values)
}

func confirmationText(sess *session.Session, required []string) string {
	var b strings.Builder
	b.WriteString("📦 *Ringkasan Laporan*\n\n")
	fmt.Fprintf(&b, "Jenis: %s\nID: %s\n\n", sess.Category, sess.ReportID)
	for _, key := range required {
		fmt.Fprintf(&b, "%s: %s\n", key, sess.Fields[key])
	}
	fmt.Fprintf(&b, "\n📷 Foto terlampir: %d\n\n", sess.AttachmentCount())
	b.WriteString("Periksa kembali data di atas, lalu pilih tindakan:")
	return b.String()
}

func uploadModeText() string {
	return "📷 *Upload Foto*\n\nPilih cara upload foto:\n\n" +
		btnModeSingle + " — beri nama/deskripsi untuk tiap foto.\n" +
		btnModeAuto + " — nama file dibuat otomatis."
}

func photoCategoryText() string {
	return "Pilih *jenis foto* terlebih dahulu:"
}

func locationAskText(label string) string {
	return fmt.Sprintf("Jenis foto: *%s*\n\nBagikan lokasi Anda (opsional, ketik '%s' untuk melewati), lalu kirim fotonya.", label, txtSkipLocation)
}

func photoSavedText(name string, total int) string {
	return fmt.Sprintf("✅ Foto tersimpan sebagai *%s*.\nTotal foto: %d\n\nKirim foto berikutnya, atau tekan %s.", name, total, btnFinishUpload)
}

func photoDescAskText() string {
	return "Ketik *nama/deskripsi* untuk foto ini:"
}

func warningText(reportID string, remaining time.Duration) string {
	mins := int(remaining.Round(time.Minute) / time.Minute)
	return fmt.Sprintf("⏰ Sesi laporan *%s* tidak aktif.\nSesi akan berakhir otomatis dalam %d menit jika tidak ada aktivitas.", reportID, mins)
}

func expiredText() string {
	return "⌛ Sesi laporan berakhir karena tidak ada aktivitas.\nFolder sementara telah dihapus. Ketik /start untuk memulai lagi."
}

func cancelledText() string {
	return "❌ Laporan dibatalkan dan folder sementara dihapus.\nKetik /start untuk memulai lagi."
}

func sentText(folderLink string) string {
	return "✅ *Laporan terkirim ke spreadsheet!*\n\nFolder foto:\n" + folderLink + "\n\nKetik /start untuk membuat laporan baru."
}

func sendFailedText() string {
	return "⚠️ Gagal mengirim laporan ke spreadsheet. Data laporan *tetap tersimpan*.\n\nKetik /start lalu pilih " + btnSendPending + " untuk mencoba lagi."
}

func restartText() string {
	return "Sesi tidak ditemukan. Ketik /start untuk memulai laporan baru."
}
