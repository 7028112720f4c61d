package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"ctsim/internal/models"
	"ctsim/pkg/config"
	"ctsim/pkg/dataio"
	"ctsim/pkg/materials"
	"ctsim/pkg/reconstruction"
	"ctsim/pkg/scanner"
	"ctsim/pkg/spectrum"
	"ctsim/pkg/visualization"
)

func main() {
	configPath := flag.String("config", "ctsim.yaml", "YAML configuration file (defaults are used when missing)")
	outputDir := flag.String("output", "output", "Directory for the scan results")
	mode := flag.String("mode", "axial", "Scan mode: axial or helical")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}
	if *mode != "axial" && *mode != "helical" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	format, err := dataio.ParseFormat(cfg.Output.Format)
	if err != nil {
		log.Fatalf("Invalid output format: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("FAN-BEAM CT ACQUISITION AND RECONSTRUCTION SIMULATOR")
	fmt.Println("================================")

	startTime := time.Now()

	fmt.Println("Step 1: Building phantom...")
	tbl, err := materials.Reference()
	if err != nil {
		log.Fatalf("Failed to load material tables: %v", err)
	}
	model, err := cfg.BuildPhantom(tbl)
	if err != nil {
		log.Fatalf("Failed to build phantom: %v", err)
	}
	fmt.Printf("Phantom has %d objects in %d levels\n", model.Len(), len(model.Levels()))

	fmt.Println("Step 2: Configuring scanner...")
	g, err := cfg.Geometry()
	if err != nil {
		log.Fatalf("Invalid scanner geometry: %v", err)
	}
	sim := scanner.NewSimulator(tbl, spectrum.NewKramers(tbl), cfg.NoiseSampler())
	sim.NumCores = cfg.Processing.NumCores
	sim.Verbose = cfg.Output.Verbose
	sim.SetGeometry(g)
	if err := sim.SetAcquisition(cfg.AcquisitionSettings()); err != nil {
		log.Fatalf("Invalid acquisition settings: %v", err)
	}
	sim.SetReconstruction(cfg.Reconstruction.FOV, cfg.Reconstruction.GridSize)
	fmt.Printf("Fan angle %.1f deg, scan FOV %.2f cm, mean energy %.1f keV\n",
		g.FanAngle()*180/math.Pi, g.ScanFOV(), sim.Spectrum().MeanEnergyKeV())

	fmt.Println("Step 3: Acquiring air scan...")
	air, err := sim.AcquireAirScan()
	if err != nil {
		log.Fatalf("Air scan failed: %v", err)
	}

	fmt.Printf("Step 4: Acquiring %s projections...\n", *mode)
	var data *models.ProjectionData
	if *mode == "helical" {
		h := cfg.Helical
		data, err = sim.AcquireHelicalProjections(model, h.Pitch, h.ZStart, h.Rotations)
	} else {
		data, err = sim.AcquireAxialProjections(model, cfg.Processing.AxialZ)
	}
	if err != nil {
		log.Fatalf("Acquisition failed: %v", err)
	}

	scanDir := filepath.Join(*outputDir, data.ScanID.String())
	if cfg.Output.SaveProjections {
		if err := dataio.SaveAirScan(filepath.Join(scanDir, "airscan"+format.Ext()), air, format); err != nil {
			log.Fatalf("Failed to save air scan: %v", err)
		}
		if err := dataio.SaveProjections(filepath.Join(scanDir, "projections"+format.Ext()), data, format); err != nil {
			log.Fatalf("Failed to save projections: %v", err)
		}
	}

	fmt.Println("Step 5: Reconstructing...")
	recon, err := reconstruction.NewReconstructor(cfg.ReconstructionParams(), g, sim.Reconstruction(), sim.Spectrum(), tbl)
	if err != nil {
		log.Fatalf("Failed to create reconstructor: %v", err)
	}
	var images []*models.Image
	if *mode == "helical" {
		images, err = recon.HelicalFIFBP(data, cfg.Helical.Slices...)
	} else {
		var img *models.Image
		img, err = recon.ReconAxialFBP(data)
		images = []*models.Image{img}
	}
	if err != nil {
		log.Fatalf("Reconstruction failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Println("Step 6: Saving results...")
	for i, img := range images {
		name := fmt.Sprintf("image_%03d%s", i, format.Ext())
		if err := dataio.SaveImage(filepath.Join(scanDir, name), img, format); err != nil {
			log.Fatalf("Failed to save image: %v", err)
		}
	}
	if cfg.Output.SaveImages {
		if err := saveRenderings(scanDir, cfg, data, images); err != nil {
			log.Printf("Warning: Failed to save renderings: %v", err)
		}
	}

	fmt.Printf("\nSimulation completed successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Results saved to: %s\n\n", scanDir)

	fmt.Printf("Validation Metrics:\n")
	fmt.Printf("===================\n")
	energy := sim.Spectrum().MeanEnergyKeV() / 1000
	settings := recon.Settings()
	for _, img := range images {
		ref, err := model.ReferenceHU(img.Size, img.PixelSize, img.Z, energy)
		if err != nil {
			log.Fatalf("Failed to render reference slice: %v", err)
		}
		metrics, err := reconstruction.Validate(img, ref, settings.FOV, 50)
		if err != nil {
			log.Fatalf("Validation failed: %v", err)
		}
		water := reconstruction.RegionStats(img, 0, 0, 2)
		fmt.Printf("z=%6.2f cm  RMSE %.1f HU  mean error %.1f HU  SSIM %.3f  within 50 HU %.1f%%  centre %.1f +/- %.1f HU\n",
			img.Z, metrics.RMSE, metrics.MeanError, metrics.SSIM, metrics.WithinTolerance*100, water.Mean, water.StdDev)
	}
	if gaps := recon.Gaps(); len(gaps) > 0 {
		fmt.Printf("\n%d slices had data gaps\n", len(gaps))
	}
}

// saveRenderings writes the windowed slices, the sinogram of the central row and
// the central-row HU profiles as a plot and an HTML chart.
func saveRenderings(dir string, cfg *config.Config, data *models.ProjectionData, images []*models.Image) error {
	window := visualization.Window{Center: cfg.Output.WindowCenter, Width: cfg.Output.WindowWidth}
	viewer, err := visualization.NewViewer(images, window)
	if err != nil {
		return err
	}
	if err := viewer.SaveSliceSequence("z", filepath.Join(dir, "slices")); err != nil {
		return err
	}

	sino, err := visualization.SinogramImage(data, data.Rows/2)
	if err != nil {
		return err
	}
	if err := visualization.SaveSlice(sino, filepath.Join(dir, "sinogram.png")); err != nil {
		return err
	}

	profiles := make([]visualization.Profile, 0, len(images))
	for _, img := range images {
		p, err := visualization.HorizontalProfile(img, img.Size/2, fmt.Sprintf("z=%.2f", img.Z))
		if err != nil {
			return err
		}
		profiles = append(profiles, p)
	}
	title := fmt.Sprintf("%s scan %s", data.Mode, data.ScanID.String()[:8])
	if err := visualization.SaveProfilePlot(filepath.Join(dir, "profile.png"), title, profiles...); err != nil {
		return err
	}
	return visualization.SaveProfileChart(filepath.Join(dir, "profile.html"), title, profiles...)
}
